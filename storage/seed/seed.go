package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/user"
)

// Directory is the YAML user directory:
//
//	users:
//	  - id: "1001"
//	    name: Ana
//	    role: student
type Directory struct {
	Users []user.NewUser `yaml:"users"`
}

func ReadUsers(r io.Reader) ([]user.NewUser, error) {
	var dir Directory
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&dir); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decoding user directory")
	}
	return dir.Users, nil
}

func LoadUsers(path string) ([]user.NewUser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadUsers(f)
}

// Users creates the users missing from the directory and returns how many were created.
// Users whose ID already exists are left untouched.
func Users(ctx context.Context, svc *user.Service, users []user.NewUser, logger core.Logger) (int, error) {
	var created int
	for i, nu := range users {
		if nu.ID != "" {
			if _, err := svc.GetByID(ctx, nu.ID); err == nil {
				continue
			} else if !errors.Is(err, user.ErrNotFound) {
				return created, errors.Wrapf(err, "finding user %s", nu.ID)
			}
		}
		nu.PasswordConfirm = nu.Password
		usr, err := svc.Create(ctx, nu)
		if err != nil {
			return created, errors.Wrapf(err, "user #%d (%s)", i+1, nu.ID)
		}
		created++
		logger.Info(fmt.Sprintf("seeded user %s (%s)", usr.ID, usr.Role), usr)
	}
	return created, nil
}
