package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/user"
)

const (
	tokenContextKey     = "userToken"
	principalContextKey = "principal"
	tokenAudience       = "AutoRegister"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Name string    `json:"name,omitempty"`
	Role user.Role `json:"role,omitempty"`
}

func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
}

func NewClaims(conf *core.Config, usr user.User) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Name: usr.Name,
		Role: usr.Role,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)
	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func authenticate(ctx context.Context, svc *user.Service, conf *core.Config, id, pwd string) (string, user.User, error) {
	usr, err := svc.Authenticate(ctx, id, pwd)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			return "", user.User{}, errAuthenticationFailed
		}
		return "", user.User{}, errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(conf, NewClaims(conf, usr))
	if err != nil {
		return "", user.User{}, err
	}
	return token, usr, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextPrincipal resolves the authenticated user once per request.
func getContextPrincipal(ctx echo.Context, svc *user.Service) (user.Principal, error) {
	if p, ok := ctx.Get(principalContextKey).(user.Principal); ok {
		return p, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.Principal{}, err
	}
	p, err := svc.Resolve(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.Principal{}, errUnauthorized
		}
		return user.Principal{}, errors.Wrap(err, "resolving context user")
	}
	ctx.Set(principalContextKey, p)
	return p, nil
}

// actorID is the ID of the authenticated user; the record service resolves it itself.
func actorID(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
