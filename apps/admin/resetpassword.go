package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) runResetPassword(args []string) error {
	fs := cli.newFlagSet("resetpassword")
	id := fs.String("id", "", "The user's ID or email. The password will be prompted next.")
	if err := cli.parse(fs, args, "id"); err != nil {
		return err
	}
	pwd, err := cli.promptPassword(fs)
	if err != nil {
		return err
	}
	return cli.resetPassword(*id, pwd)
}

func (cli *commandLine) resetPassword(idOrEmail, pwd string) error {
	usr, err := cli.users.SetPassword(context.Background(), idOrEmail, pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password of %s reset\n", usr.ID)
	return nil
}
