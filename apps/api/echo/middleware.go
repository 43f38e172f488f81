package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core/user"
)

// capabilityMiddleware lets through users whose role grants `allowed`.
func capabilityMiddleware(svc *user.Service, allowed func(user.Capabilities) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextPrincipal(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context principal")
			}
			if allowed(p.Capabilities) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func canManageUsers(caps user.Capabilities) bool { return caps.ManageUsers }
