package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net/mail"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	reportsvc "github.com/trezcool/autoregister/services/report"
)

func filterFlags(fs *flag.FlagSet) (*record.Filter, *string) {
	var filter record.Filter
	fs.StringVar(&filter.StudentID, "student", "", "Filter by student ID.")
	fs.StringVar(&filter.TeacherID, "teacher", "", "Filter by teacher ID.")
	fs.StringVar(&filter.Subject, "subject", "", "Filter by subject.")
	fs.IntVar(&filter.Period, "period", 0, "Filter by period.")
	fs.BoolVar(&filter.PublishedOnly, "published", false, "Only published records.")
	fs.BoolVar(&filter.AlertOnly, "alert", false, "Only records with an active alert.")
	ordering := fs.String("ordering", "", "Comma separated fields, \"-\" prefixed for descending order.")
	return &filter, ordering
}

func (cli *commandLine) printRecords(recs []record.Record) error {
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTUDENT\tSUBJECT\tPERIOD\tSCORE\tGRADE\tSTATE\tALERT\tAPPEALS")
	for _, rec := range recs {
		state := "draft"
		if rec.Published {
			state = "published"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%s\t%s\t%t\t%d\n",
			rec.ID, rec.StudentID, rec.Subject, rec.Period, rec.NumericScore, rec.LetterGrade, state, rec.AlertActive, len(rec.Appeals))
	}
	return tw.Flush()
}

func (cli *commandLine) runRecords(args []string) error {
	fs := cli.newFlagSet("records")
	actor := fs.String("actor", "", "ID of the user querying.")
	filter, ordering := filterFlags(fs)
	if err := cli.parse(fs, args, "actor"); err != nil {
		return err
	}
	filter.Ordering = core.ParseOrdering(*ordering)

	recs, err := cli.records.List(context.Background(), *actor, *filter)
	if err != nil {
		return err
	}
	return cli.printRecords(recs)
}

func (cli *commandLine) runAlerts(args []string) error {
	fs := cli.newFlagSet("alerts")
	actor := fs.String("actor", "", "ID of the user querying.")
	if err := cli.parse(fs, args, "actor"); err != nil {
		return err
	}

	recs, err := cli.records.Alerts(context.Background(), *actor)
	if err != nil {
		return err
	}
	return cli.printRecords(recs)
}

func (cli *commandLine) runExport(args []string) error {
	fs := cli.newFlagSet("export")
	actor := fs.String("actor", "", "ID of the user exporting.")
	out := fs.String("out", "", "Path of the spreadsheet to write.")
	mailTo := fs.String("mail", "", "Also email the spreadsheet to this address.")
	filter, ordering := filterFlags(fs)
	if err := cli.parse(fs, args, "actor", "out"); err != nil {
		return err
	}
	filter.Ordering = core.ParseOrdering(*ordering)

	var to *mail.Address
	if *mailTo != "" {
		addr, err := mail.ParseAddress(*mailTo)
		if err != nil {
			return errors.Wrapf(err, "invalid address %q", *mailTo)
		}
		to = addr
	}

	recs, err := cli.records.List(context.Background(), *actor, *filter)
	if err != nil {
		return err
	}
	buf := new(bytes.Buffer)
	if err = reportsvc.WriteRecords(buf, recs); err != nil {
		return errors.Wrap(err, "writing spreadsheet")
	}
	if err = ioutil.WriteFile(*out, buf.Bytes(), 0644); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d records exported to %s\n", len(recs), *out)

	if to != nil {
		msg := &core.EmailMessage{
			To:      []mail.Address{*to},
			Subject: "Records export",
			BodyStr: fmt.Sprintf("Please find attached the export of %d records.", len(recs)),
		}
		if err = msg.Attach(buf, filepath.Base(*out), reportsvc.ContentType); err != nil {
			return errors.Wrap(err, "attaching spreadsheet")
		}
		cli.mailer.SendMessages(msg)
		cli.mailer.Wait()
		fmt.Fprintf(cli.out, "export sent to %s\n", to.Address)
	}
	return nil
}

func (cli *commandLine) runImport(args []string) error {
	fs := cli.newFlagSet("import")
	actor := fs.String("actor", "", "ID of the user entering the grades.")
	file := fs.String("file", "", "Path of the spreadsheet to read.")
	if err := cli.parse(fs, args, "actor", "file"); err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := reportsvc.ReadEntries(f)
	if err != nil {
		return err
	}

	ctx := context.Background()
	refused := 0
	for i, entry := range entries {
		res, err := cli.records.CreateOrUpdate(ctx, *actor, entry)
		if err != nil {
			if record.KindOf(err) == record.KindInternal {
				return err
			}
			refused++
			fmt.Fprintf(cli.out, "row %d (%s): %v\n", i+2, entry.Key(), err)
			continue
		}
		cli.printResult(res)
	}
	fmt.Fprintf(cli.out, "%d rows imported, %d refused\n", len(entries)-refused, refused)
	return nil
}
