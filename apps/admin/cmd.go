package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	out     io.Writer
	db      *sql.DB // nil unless the storage driver is postgres
	users   *user.Service
	records *record.Service
	mailer  core.EmailService
}

var commands = []struct{ name, usage string }{
	{"adduser", "-id ID -name NAME -role ROLE [-email EMAIL] - add a user; the password is prompted next"},
	{"resetpassword", "-id ID|EMAIL - reset user's password"},
	{"migrate", "COMMAND [ARGS] - run a goose migration command (up, down, status, ...)"},
	{"grade", "-actor ID -student ID -subject SUBJECT -period N -c NAME=VALUE... [-methodology TEXT] - enter a grade"},
	{"publish", "-actor ID -record ID - publish a record"},
	{"appeal", "-actor ID -record ID [-comment TEXT] - appeal a published record"},
	{"resolve", "-actor ID -record ID -appeal ID -state accepted|rejected [-response TEXT] - resolve an appeal"},
	{"correct", "-actor ID -record ID -appeal ID -c NAME=VALUE... - apply the correction of an accepted appeal"},
	{"dismiss", "-actor ID -record ID - dismiss the alert of a record"},
	{"records", "-actor ID [-student ID] [-subject S] [-period N] [-published] [-alert] [-ordering FIELDS] - list records"},
	{"alerts", "-actor ID - list the records with an active alert"},
	{"export", "-actor ID -out FILE [-mail ADDRESS] [filters] - export records as a spreadsheet"},
	{"import", "-actor ID -file FILE - enter the grades of a spreadsheet"},
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	for _, cmd := range commands {
		fmt.Fprintf(cli.out, "  %s %s\n", cmd.name, cmd.usage)
	}
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// parse parses `args` and fails with errHelp, after printing the usage, when a `required` flag is empty.
func (cli *commandLine) parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return errHelp
		}
		return err
	}
	for _, name := range required {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" {
			fs.Usage()
			return errHelp
		}
	}
	return nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	cmdArgs := args[2:]
	switch args[1] {
	case "adduser":
		return cli.runAddUser(cmdArgs)
	case "resetpassword":
		return cli.runResetPassword(cmdArgs)
	case "migrate":
		if len(cmdArgs) == 0 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(cmdArgs)
	case "grade":
		return cli.runGrade(cmdArgs)
	case "publish":
		return cli.runPublish(cmdArgs)
	case "appeal":
		return cli.runAppeal(cmdArgs)
	case "resolve":
		return cli.runResolve(cmdArgs)
	case "correct":
		return cli.runCorrect(cmdArgs)
	case "dismiss":
		return cli.runDismiss(cmdArgs)
	case "records":
		return cli.runRecords(cmdArgs)
	case "alerts":
		return cli.runAlerts(cmdArgs)
	case "export":
		return cli.runExport(cmdArgs)
	case "import":
		return cli.runImport(cmdArgs)
	default:
		cli.printUsage()
		return errHelp
	}
}

// promptPassword reads a password from the terminal; an empty password is errHelp.
func (cli *commandLine) promptPassword(fs *flag.FlagSet) (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

// componentsFlag collects repeated NAME=VALUE grade components.
type componentsFlag map[string]float64

func (c componentsFlag) String() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+strconv.FormatFloat(c[name], 'f', -1, 64))
	}
	return strings.Join(pairs, ",")
}

func (c componentsFlag) Set(val string) error {
	parts := strings.SplitN(val, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("component must be of form NAME=VALUE (got %q)", val)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return fmt.Errorf("component %s: value must be a number (got %q)", parts[0], parts[1])
	}
	c[strings.TrimSpace(parts[0])] = v
	return nil
}
