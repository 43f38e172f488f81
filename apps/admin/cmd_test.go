package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
	reportsvc "github.com/trezcool/autoregister/services/report"
	"github.com/trezcool/autoregister/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Services, *bytes.Buffer) {
	svcs := testutil.NewServices(t)
	out := new(bytes.Buffer)

	// start CLI
	return &commandLine{
		out:     out,
		users:   svcs.Users,
		records: svcs.Records,
		mailer:  svcs.Mailer,
	}, svcs, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string // substring of the output
}

func runCLITests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErrStr) {
					t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
				}
			case err != nil:
				t.Errorf("cli.run() unexpected error = %v", err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no database", args: []string{"migrate", "up"}, wantErr: errNoDatabase},
	})

	cli.db = new(sql.DB) // never used by the mock
	gooseRunFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "appeals_index", "sql"}},
	})
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, svcs, out := setup(t)
	ctx := context.Background()

	tests := []struct {
		cliTest
		pwd string
	}{
		{cliTest: cliTest{name: "no command", wantErr: errHelp}},
		{cliTest: cliTest{name: "unknown command", args: []string{"lol"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "id but no password", args: []string{"resetpassword", "-id", testutil.TeacherID}, wantErr: errHelp}},
		{cliTest: cliTest{name: "user not found", args: []string{"resetpassword", "-id", "lol"}, wantErr: user.ErrNotFound}, pwd: "lol"},
		{cliTest: cliTest{name: "reset with id", args: []string{"resetpassword", "-id", testutil.TeacherID}, wantOut: "password of 2005 reset"}, pwd: "lol"},
		{cliTest: cliTest{name: "reset with email", args: []string{"resetpassword", "-id", "pedro@example.com"}, wantOut: "password of 2005 reset"}, pwd: "lmao"},
	}
	for _, tt := range tests {
		mockPassword(tt.pwd)
		runCLITests(t, cli, out, []cliTest{tt.cliTest})
	}

	_, err := svcs.Users.Authenticate(ctx, testutil.TeacherID, "lmao")
	assert.NoError(t, err, "the last password is set")
}

func Test_commandLine_addUser(t *testing.T) {
	cli, svcs, out := setup(t)

	mockPassword("")
	runCLITests(t, cli, out, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no role", args: []string{"adduser", "-id", "6001", "-name", "Luis"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-id", "6001", "-name", "Luis", "-role", "teacher"}, wantErr: errHelp},
	})

	mockPassword("Gr4des#2024")
	runCLITests(t, cli, out, []cliTest{
		{name: "invalid role", args: []string{"adduser", "-id", "6001", "-name", "Luis", "-role", "janitor"}, wantErr: core.ErrInvalidInput},
		{name: "created", args: []string{"adduser", "-id", "6001", "-name", "Luis", "-role", "profesor", "-email", "luis@example.com"}, wantOut: "user 6001 (teacher) created"},
	})

	usr, err := svcs.Users.Authenticate(context.Background(), "luis@example.com", "Gr4des#2024")
	require.NoError(t, err)
	assert.Equal(t, user.RoleTeacher, usr.Role)
}

func Test_commandLine_lifecycle(t *testing.T) {
	cli, svcs, out := setup(t)
	ctx := context.Background()

	grade := []string{"grade", "-actor", testutil.TeacherID, "-student", testutil.StudentID, "-subject", "Matematicas", "-period", "1"}
	runCLITests(t, cli, out, []cliTest{
		{name: "grade: no components", args: grade, wantErr: errHelp},
		{name: "grade: no period", args: []string{"grade", "-actor", testutil.TeacherID, "-student", testutil.StudentID, "-subject", "Matematicas", "-c", "cuaderno=15"}, wantErr: errHelp},
		{name: "grade: malformed component", args: append(grade, "-c", "cuaderno"), wantErrStr: `component must be of form NAME=VALUE (got "cuaderno")`},
		{name: "grade: student refused", args: []string{"grade", "-actor", testutil.StudentID, "-student", testutil.StudentID, "-subject", "Matematicas", "-period", "1", "-c", "cuaderno=15"}, wantErr: record.ErrPermissionDenied},
		{name: "grade: out of range", args: append(grade, "-c", "cuaderno=16"), wantErr: record.ErrCalculation},
		{name: "grade: unknown component", args: append(grade, "-c", "examen=10"), wantErr: record.ErrCalculation},
		{name: "grade", args: append(grade, "-c", "participacion=20", "-c", "cuaderno=15", "-c", "practica=20", "-c", "exposicion=15", "-c", "prueba_mensual=20"), wantOut: "record created: record "},
		{name: "grade: score", args: append(grade, "-c", "participacion=20", "-c", "cuaderno=15", "-c", "practica=20", "-c", "exposicion=15", "-c", "prueba_mensual=20"), wantOut: "(90.00 A-)"},
	})

	recs, err := svcs.Records.List(ctx, testutil.TeacherID, record.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	recID := recs[0].ID

	runCLITests(t, cli, out, []cliTest{
		{name: "appeal: not published", args: []string{"appeal", "-actor", testutil.StudentID, "-record", recID}, wantErr: record.ErrNotPublished},
		{name: "publish: unknown record", args: []string{"publish", "-actor", testutil.TeacherID, "-record", "lol"}, wantErr: record.ErrRecordNotFound},
		{name: "publish", args: []string{"publish", "-actor", testutil.TeacherID, "-record", recID}, wantOut: "record published: record " + recID},
		{name: "appeal", args: []string{"appeal", "-actor", testutil.StudentID, "-record", recID, "-comment", "el examen"}, wantOut: "appeal created"},
	})

	rec, err := svcs.Records.Get(ctx, testutil.TeacherID, recID)
	require.NoError(t, err)
	require.Len(t, rec.Appeals, 1)
	appealID := rec.Appeals[0].ID

	runCLITests(t, cli, out, []cliTest{
		{name: "correct: not accepted", args: []string{"correct", "-actor", testutil.TeacherID, "-record", recID, "-appeal", appealID, "-c", "exposicion=17"}, wantErr: record.ErrAppealNotAccepted},
		{name: "resolve: teacher refused", args: []string{"resolve", "-actor", testutil.TeacherID, "-record", recID, "-appeal", appealID, "-state", "accepted"}, wantErr: record.ErrPermissionDenied},
		{name: "resolve: invalid state", args: []string{"resolve", "-actor", testutil.AdministrationID, "-record", recID, "-appeal", appealID, "-state", "maybe"}, wantErr: record.ErrInvalidState},
		{name: "resolve", args: []string{"resolve", "-actor", testutil.AdministrationID, "-record", recID, "-appeal", appealID, "-state", "aceptada"}, wantOut: "appeal accepted: record " + recID + ", appeal " + appealID},
		{name: "alerts", args: []string{"alerts", "-actor", testutil.DirectorID}, wantOut: recID},
		{name: "correct", args: []string{"correct", "-actor", testutil.TeacherID, "-record", recID, "-appeal", appealID, "-c", "exposicion=17"}, wantOut: "(92.00 A-)"},
		{name: "dismiss: teacher refused", args: []string{"dismiss", "-actor", testutil.TeacherID, "-record", recID}, wantErr: record.ErrPermissionDenied},
		{name: "dismiss", args: []string{"dismiss", "-actor", testutil.AdministrationID, "-record", recID}, wantOut: "no active alert"},
	})
}

func Test_commandLine_report(t *testing.T) {
	cli, svcs, out := setup(t)
	ctx := context.Background()

	for subject, exam := range map[string]float64{"Historia": 0, "Matematicas": 20} {
		_, err := svcs.Records.CreateOrUpdate(ctx, testutil.TeacherID, record.Entry{
			StudentID:  testutil.StudentID,
			Subject:    subject,
			Period:     1,
			Components: map[string]float64{"participacion": 20, "cuaderno": 15, "practica": 20, "exposicion": 15, "prueba_mensual": exam},
		})
		require.NoError(t, err)
	}

	dir := t.TempDir()
	sheet := filepath.Join(dir, "records.xlsx")

	runCLITests(t, cli, out, []cliTest{
		{name: "records: no actor", args: []string{"records"}, wantErr: errHelp},
		{name: "records: unknown actor", args: []string{"records", "-actor", "lol"}, wantErr: user.ErrNotFound},
		{name: "records", args: []string{"records", "-actor", testutil.DirectorID, "-ordering", "-numeric_score"}, wantOut: "90.00"},
		{name: "records: filtered", args: []string{"records", "-actor", testutil.DirectorID, "-subject", "Historia"}, wantOut: "70.00"},
		{name: "export: no out", args: []string{"export", "-actor", testutil.DirectorID}, wantErr: errHelp},
		{name: "export: invalid mail", args: []string{"export", "-actor", testutil.DirectorID, "-out", sheet, "-mail", "lol"}, wantErrStr: `invalid address "lol"`},
		{name: "export", args: []string{"export", "-actor", testutil.DirectorID, "-out", sheet, "-mail", "carmen@example.com"}, wantOut: "2 records exported to " + sheet},
	})

	sent := svcs.Mailer.Sent()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, "carmen@example.com", last.To[0].Address)
	require.Len(t, last.Attachments, 1)
	assert.Equal(t, reportsvc.ContentType, last.Attachments[0].ContentType)
	assert.Equal(t, "records.xlsx", last.Attachments[0].Filename)

	runCLITests(t, cli, out, []cliTest{
		{name: "import: no file", args: []string{"import", "-actor", testutil.TeacherID}, wantErr: errHelp},
		{name: "import: student refused", args: []string{"import", "-actor", testutil.StudentID, "-file", sheet}, wantOut: "0 rows imported, 2 refused"},
		{name: "import", args: []string{"import", "-actor", testutil.TeacherID, "-file", sheet}, wantOut: "2 rows imported, 0 refused"},
	})
	assert.Equal(t, 2, strings.Count(out.String(), "record updated"))
}
