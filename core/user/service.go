package user

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound           = errors.New("user not found")
	ErrRoleUndefined      = errors.New("user role has no capability mapping")
	ErrUserExists         = errors.New("a user with this ID already exists")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoleTooHigh        = errors.New("not enough rights to set this role")
	ErrPermissionDenied   = errors.New("permission denied")
)

type (
	// GetFilter selects one User; IDOrEmail matches either the ID or the email.
	GetFilter struct {
		ID        string
		IDOrEmail string
	}

	// Repository is the user directory.
	Repository interface {
		// CheckEmailUniqueness fails with ErrEmailExists if another user than `excludedID` has `email`.
		CheckEmailUniqueness(ctx context.Context, email string, excludedID string) error
		// CreateUser fails with ErrUserExists if the ID is taken.
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		QueryUsers(ctx context.Context, filter QueryFilter) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo       Repository
		validate   *validator.Validate
		translator ut.Translator
	}
)

func NewService(repo Repository, validate *validator.Validate, translator ut.Translator) *Service {
	return &Service{
		repo:       repo,
		validate:   validate,
		translator: translator,
	}
}

// Resolve looks up `id` and returns the user with the capabilities of their role.
// It fails with ErrNotFound for an unknown user and with ErrRoleUndefined for an unmapped role.
func (svc *Service) Resolve(ctx context.Context, id string) (Principal, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: core.CleanString(id)})
	if err != nil {
		return Principal{}, err
	}
	caps, ok := usr.Role.Capabilities()
	if !ok {
		return Principal{}, errors.Wrapf(ErrRoleUndefined, "role %q", usr.Role)
	}
	return Principal{User: usr, Capabilities: caps}, nil
}

func (svc *Service) checkUniqueness(ctx context.Context, email, excludedID string) error {
	if email == "" {
		return nil
	}
	if err := svc.repo.CheckEmailUniqueness(ctx, email, excludedID); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

// Create validates `nu` and adds the user to the directory.
// A user ID is generated when none is provided.
func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(svc.validate); err != nil {
		return User{}, core.TranslateValidationErrors(err, svc.translator)
	}
	if err := svc.checkUniqueness(ctx, nu.Email, ""); err != nil {
		return User{}, err
	}

	now := NowFunc().UTC()
	usr := User{
		ID:        nu.ID,
		Name:      nu.Name,
		Email:     nu.Email,
		Role:      nu.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	if nu.Password != "" {
		if err := usr.SetPassword(nu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}

	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return User{}, core.NewValidationError(err, core.FieldError{Field: "id", Error: err.Error()})
		}
		return User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

// CreateAs creates a user on behalf of `actor`, who needs the ManageUsers capability
// and cannot grant a role above their own.
func (svc *Service) CreateAs(ctx context.Context, actor Principal, nu NewUser) (User, error) {
	if !actor.Capabilities.ManageUsers {
		return User{}, ErrPermissionDenied
	}
	if r, err := ParseRole(string(nu.Role)); err == nil && RolePriority(r) > RolePriority(actor.Role()) {
		return User{}, core.NewValidationError(ErrRoleTooHigh, core.FieldError{Field: "role", Error: ErrRoleTooHigh.Error()})
	}
	return svc.Create(ctx, nu)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: core.CleanString(id)})
}

func (svc *Service) GetByIDOrEmail(ctx context.Context, idOrEmail string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{IDOrEmail: core.CleanString(idOrEmail)})
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]User, error) {
	filter.Clean()
	return svc.repo.QueryUsers(ctx, filter)
}

// SetPassword replaces the password of the user found by ID or email.
func (svc *Service) SetPassword(ctx context.Context, idOrEmail, pwd string) (User, error) {
	usr, err := svc.GetByIDOrEmail(ctx, idOrEmail)
	if err != nil {
		return User{}, err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// Authenticate checks the password of the user found by ID or email.
// Unknown users and wrong passwords both fail with ErrInvalidCredentials.
func (svc *Service) Authenticate(ctx context.Context, idOrEmail, pwd string) (User, error) {
	usr, err := svc.GetByIDOrEmail(ctx, idOrEmail)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by ID or email")
	}
	if len(usr.PasswordHash) == 0 || usr.CheckPassword(pwd) != nil {
		return User{}, ErrInvalidCredentials
	}
	return usr, nil
}
