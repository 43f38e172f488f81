package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/autoregister/apps/shared"
	"github.com/trezcool/autoregister/core"
)

func main() {
	os.Exit(start())
}

func start() int {
	conf := core.NewConfig()
	logger := shared.NewLogger(conf, os.Stderr)

	app, err := shared.NewApp(conf, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up dependencies: %v", err), err)
		return 1
	}
	defer app.Close()

	if err = app.SeedUsers(context.Background()); err != nil {
		logger.Error(fmt.Sprintf("initializing: %v", err), err)
		return 1
	}

	cli := commandLine{
		out:     os.Stdout,
		db:      app.Storage.SQL,
		users:   app.Users,
		records: app.Records,
		mailer:  app.Mailer,
	}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}
