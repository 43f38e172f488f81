package main

import (
	"context"
	"fmt"

	"github.com/trezcool/autoregister/core/record"
)

func (cli *commandLine) printResult(res record.Result) {
	fmt.Fprintf(cli.out, "%s: record %s", res.Message, res.RecordID)
	if res.AppealID != "" {
		fmt.Fprintf(cli.out, ", appeal %s", res.AppealID)
	}
	if res.LetterGrade != "" {
		fmt.Fprintf(cli.out, " (%.2f %s)", res.NumericScore, res.LetterGrade)
	}
	fmt.Fprintln(cli.out)
}

// done prints a successful Result; failures are returned to be reported by main.
func (cli *commandLine) done(res record.Result, err error) error {
	if err != nil {
		return err
	}
	cli.printResult(res)
	return nil
}

func (cli *commandLine) runGrade(args []string) error {
	fs := cli.newFlagSet("grade")
	actor := fs.String("actor", "", "ID of the user entering the grade.")
	student := fs.String("student", "", "The student's ID.")
	subject := fs.String("subject", "", "The subject.")
	period := fs.Int("period", 0, "The grading period.")
	methodology := fs.String("methodology", "", "Methodology note (optional).")
	components := make(componentsFlag)
	fs.Var(components, "c", "A grade component as NAME=VALUE; repeat for every component.")
	if err := cli.parse(fs, args, "actor", "student", "subject", "c"); err != nil {
		return err
	}
	if *period <= 0 {
		fs.Usage()
		return errHelp
	}

	return cli.done(cli.records.CreateOrUpdate(context.Background(), *actor, record.Entry{
		StudentID:   *student,
		Subject:     *subject,
		Period:      *period,
		Components:  components,
		Methodology: *methodology,
	}))
}

func (cli *commandLine) runPublish(args []string) error {
	fs := cli.newFlagSet("publish")
	actor := fs.String("actor", "", "ID of the user publishing the record.")
	recordID := fs.String("record", "", "The record's ID.")
	if err := cli.parse(fs, args, "actor", "record"); err != nil {
		return err
	}
	return cli.done(cli.records.Publish(context.Background(), *actor, *recordID))
}

func (cli *commandLine) runAppeal(args []string) error {
	fs := cli.newFlagSet("appeal")
	actor := fs.String("actor", "", "ID of the student appealing.")
	recordID := fs.String("record", "", "The record's ID.")
	comment := fs.String("comment", "", "Why the grade is appealed.")
	if err := cli.parse(fs, args, "actor", "record"); err != nil {
		return err
	}
	return cli.done(cli.records.CreateAppeal(context.Background(), *actor, *recordID, *comment))
}

func (cli *commandLine) runResolve(args []string) error {
	fs := cli.newFlagSet("resolve")
	actor := fs.String("actor", "", "ID of the user resolving the appeal.")
	recordID := fs.String("record", "", "The record's ID.")
	appealID := fs.String("appeal", "", "The appeal's ID.")
	state := fs.String("state", "", "accepted|rejected (aceptada|rechazada).")
	response := fs.String("response", "", "Response to the student.")
	if err := cli.parse(fs, args, "actor", "record", "appeal", "state"); err != nil {
		return err
	}
	return cli.done(cli.records.ResolveAppeal(context.Background(), *actor, *recordID, *appealID, *state, *response))
}

func (cli *commandLine) runCorrect(args []string) error {
	fs := cli.newFlagSet("correct")
	actor := fs.String("actor", "", "ID of the user applying the correction.")
	recordID := fs.String("record", "", "The record's ID.")
	appealID := fs.String("appeal", "", "The accepted appeal's ID.")
	components := make(componentsFlag)
	fs.Var(components, "c", "A revised grade component as NAME=VALUE; repeat for every component.")
	if err := cli.parse(fs, args, "actor", "record", "appeal", "c"); err != nil {
		return err
	}
	return cli.done(cli.records.ApplyAppealCorrection(context.Background(), *actor, *recordID, *appealID, components))
}

func (cli *commandLine) runDismiss(args []string) error {
	fs := cli.newFlagSet("dismiss")
	actor := fs.String("actor", "", "ID of the user dismissing the alert.")
	recordID := fs.String("record", "", "The record's ID.")
	if err := cli.parse(fs, args, "actor", "record"); err != nil {
		return err
	}
	return cli.done(cli.records.DismissAlert(context.Background(), *actor, *recordID))
}
