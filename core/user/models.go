package user

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/autoregister/core"
)

// Role is the single role of a User.
type Role string

// Roles
const (
	RoleStudent        Role = "student"
	RoleTeacher        Role = "teacher"
	RoleAdministration Role = "administration"
	RoleRecordsOfficer Role = "records_officer"
	RoleDirector       Role = "director"
)

var (
	AllRoles = []Role{RoleStudent, RoleTeacher, RoleAdministration, RoleRecordsOfficer, RoleDirector}

	Roles = []RoleInfo{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Administration", Value: RoleAdministration},
		{Name: "Records Officer", Value: RoleRecordsOfficer},
		{Name: "Director", Value: RoleDirector},
	}

	rolePriorities = map[Role]int{
		RoleDirector:       50,
		RoleAdministration: 40,
		RoleRecordsOfficer: 30,
		RoleTeacher:        20,
		RoleStudent:        10,
	}

	// accepted spellings of each role, including the registry's spanish labels
	roleAliases = map[string]Role{
		"student":            RoleStudent,
		"estudiante":         RoleStudent,
		"teacher":            RoleTeacher,
		"profesor":           RoleTeacher,
		"administration":     RoleAdministration,
		"administracion":     RoleAdministration,
		"administración":     RoleAdministration,
		"records_officer":    RoleRecordsOfficer,
		"encargada_registro": RoleRecordsOfficer,
		"director":           RoleDirector,
	}
)

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	if r, ok := roleAliases[core.CleanString(s, true /* lower */)]; ok {
		return r, nil
	}
	return "", ErrRoleUndefined
}

func RolePriority(role Role) int {
	return rolePriorities[role]
}

// Capabilities returns the fixed capability set of the role; ok is false for an unmapped role.
func (r Role) Capabilities() (caps Capabilities, ok bool) {
	switch r {
	case RoleStudent:
		return Capabilities{ViewGrades: true}, true
	case RoleTeacher:
		return Capabilities{ViewGrades: true, FillFields: true, Publish: true}, true
	case RoleAdministration:
		return Capabilities{ViewGrades: true, ManageUsers: true, DismissAlerts: true}, true
	case RoleRecordsOfficer:
		return Capabilities{ViewGrades: true, EditWithin7Days: true, ModifyAfterDeadline: true}, true
	case RoleDirector:
		return Capabilities{
			ViewGrades:          true,
			FillFields:          true,
			Publish:             true,
			EditWithin7Days:     true,
			ModifyAfterDeadline: true,
			ManageUsers:         true,
			DismissAlerts:       true,
		}, true
	}
	return Capabilities{}, false
}

func (r Role) String() string { return string(r) }

type RoleInfo struct {
	Name  string `json:"name"`
	Value Role   `json:"value"`
}

// Capabilities is the set of permissions a role holds.
type Capabilities struct {
	ViewGrades          bool `json:"view_grades"`
	FillFields          bool `json:"fill_fields"`
	Publish             bool `json:"publish"`
	EditWithin7Days     bool `json:"edit_within_7_days"`
	ModifyAfterDeadline bool `json:"modify_after_deadline"`
	ManageUsers         bool `json:"manage_users"`
	DismissAlerts       bool `json:"dismiss_alerts"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

// Principal is a resolved User with the capabilities of their role.
type Principal struct {
	User         User         `json:"user"`
	Capabilities Capabilities `json:"capabilities"`
}

func (p Principal) ID() string { return p.User.ID }
func (p Principal) Role() Role { return p.User.Role }

// NewUser contains information needed to create a new User.
type NewUser struct {
	ID              string `json:"id" yaml:"id" validate:"omitempty,max=64,identifier"`
	Name            string `json:"name" yaml:"name" validate:"required,notblank"`
	Email           string `json:"email" yaml:"email" validate:"omitempty,email"`
	Role            Role   `json:"role" yaml:"role" validate:"required,role"`
	Password        string `json:"password" yaml:"password"`
	PasswordConfirm string `json:"password_confirm" yaml:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.ID = core.CleanString(nu.ID)
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	if r, err := ParseRole(string(nu.Role)); err == nil {
		nu.Role = r
	}
	return validate.Struct(nu)
}

type QueryFilter struct {
	Search string `query:"search"`
	Roles  []Role `query:"role"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
