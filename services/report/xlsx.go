package reportsvc

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/autoregister/core/record"
)

const (
	sheet       = "Sheet1"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateLayout  = "2006-01-02"
)

var (
	ErrInvalidFile = errors.New("invalid spreadsheet")

	// columns of an import sheet; every other column is a grade component
	entryColumns = []string{"student_id", "subject", "period", "methodology"}

	// computed columns of an exported sheet, ignored on import
	computedColumns = []string{"teacher_id", "numeric_score", "letter_grade", "published", "published_at", "deadline", "alert_active", "appeals"}
)

// WriteRecords writes `records` as a spreadsheet: one row per record, one column per grade component.
func WriteRecords(w io.Writer, records []record.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	components := componentNames(records)
	header := []interface{}{"student_id", "subject", "period", "teacher_id"}
	for _, name := range components {
		header = append(header, name)
	}
	header = append(header, "numeric_score", "letter_grade", "published", "published_at", "deadline", "alert_active", "appeals", "methodology")
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "writing header")
	}

	for i, rec := range records {
		row := []interface{}{rec.StudentID, rec.Subject, rec.Period, rec.TeacherID}
		for _, name := range components {
			if v, ok := rec.Components[name]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		row = append(row,
			rec.NumericScore,
			rec.LetterGrade,
			rec.Published,
			formatDate(rec.PublishedAt),
			formatDate(rec.Deadline),
			rec.AlertActive,
			len(rec.Appeals),
			rec.Methodology,
		)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "writing record %s", rec.ID)
		}
	}
	return f.Write(w)
}

// ReadEntries parses grade entries from the first sheet of a spreadsheet.
// The header row names the student_id, subject and period columns, an optional methodology column,
// and one column per grade component. Empty component cells are left out of the entry.
// Sheets written by WriteRecords can be read back: their computed columns are ignored.
func ReadEntries(r io.Reader) ([]record.Entry, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidFile, err.Error())
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrInvalidFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}
	if len(rows) < 2 { // header + at least one data row
		return nil, errors.Wrap(ErrInvalidFile, "no data rows")
	}

	columnMap := make(map[string]int)
	for i, col := range rows[0] {
		columnMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range entryColumns[:3] {
		if _, ok := columnMap[col]; !ok {
			return nil, errors.Wrapf(ErrInvalidFile, "missing required column: %s", col)
		}
	}

	entries := make([]record.Entry, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2
		if isBlank(row) {
			continue
		}
		entry, err := parseRow(row, columnMap)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", rowNum)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseRow(row []string, columnMap map[string]int) (record.Entry, error) {
	getValue := func(colName string) string {
		if idx, ok := columnMap[colName]; ok && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	entry := record.Entry{
		StudentID:   getValue("student_id"),
		Subject:     getValue("subject"),
		Methodology: getValue("methodology"),
		Components:  make(map[string]float64),
	}
	period, err := strconv.Atoi(getValue("period"))
	if err != nil {
		return entry, errors.Errorf("invalid period: %q", getValue("period"))
	}
	entry.Period = period

	for col := range columnMap {
		if col == "" || isEntryColumn(col) || isComputedColumn(col) {
			continue
		}
		val := getValue(col)
		if val == "" {
			continue
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return entry, errors.Errorf("invalid %s value: %q", col, val)
		}
		entry.Components[col] = v
	}
	return entry, nil
}

func componentNames(records []record.Record) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, rec := range records {
		for name := range rec.Components {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func isEntryColumn(col string) bool {
	for _, c := range entryColumns {
		if col == c {
			return true
		}
	}
	return false
}

func isComputedColumn(col string) bool {
	for _, c := range computedColumns {
		if col == c {
			return true
		}
	}
	return false
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
