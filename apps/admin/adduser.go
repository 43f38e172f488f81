package main

import (
	"context"
	"fmt"

	"github.com/trezcool/autoregister/core/user"
)

func (cli *commandLine) runAddUser(args []string) error {
	fs := cli.newFlagSet("adduser")
	id := fs.String("id", "", "The user's ID.")
	name := fs.String("name", "", "The user's name.")
	email := fs.String("email", "", "The user's email (optional).")
	role := fs.String("role", "", "One of: student, teacher, administration, records_officer, director.")
	if err := cli.parse(fs, args, "id", "name", "role"); err != nil {
		return err
	}
	pwd, err := cli.promptPassword(fs)
	if err != nil {
		return err
	}
	return cli.addUser(user.NewUser{
		ID:              *id,
		Name:            *name,
		Email:           *email,
		Role:            user.Role(*role),
		Password:        pwd,
		PasswordConfirm: pwd,
	})
}

// addUser creates a user.User with a password.
func (cli *commandLine) addUser(nu user.NewUser) error {
	usr, err := cli.users.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %s (%s) created\n", usr.ID, usr.Role)
	return nil
}
