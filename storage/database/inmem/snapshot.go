package inmemdb

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
)

const (
	usersFile   = "users.csv"
	recordsFile = "records.csv"
)

var (
	usersHeader = []string{"id", "name", "email", "role", "password_hash", "created_at", "updated_at"}

	recordsHeader = []string{
		"id", "student_id", "teacher_id", "subject", "period", "components", "numeric_score", "letter_grade",
		"methodology", "published", "published_at", "deadline", "alert_active", "appeals", "created_at", "updated_at",
	}
)

func (db *DB) load() error {
	if err := os.MkdirAll(db.snapshotDir, 0o755); err != nil {
		return err
	}
	if err := db.loadUsers(); err != nil {
		return errors.Wrap(err, usersFile)
	}
	if err := db.loadRecords(); err != nil {
		return errors.Wrap(err, recordsFile)
	}
	return nil
}

func (db *DB) loadUsers() error {
	rows, err := readCSV(filepath.Join(db.snapshotDir, usersFile))
	if err != nil || rows == nil {
		return err
	}
	for i, row := range rows {
		if len(row) != len(usersHeader) {
			return errors.Errorf("line %d: expected %d columns, got %d", i+2, len(usersHeader), len(row))
		}
		usr := user.User{ID: row[0], Name: row[1], Email: row[2], Role: user.Role(row[3])}
		if row[4] != "" {
			if usr.PasswordHash, err = base64.StdEncoding.DecodeString(row[4]); err != nil {
				return errors.Wrapf(err, "line %d: password_hash", i+2)
			}
		}
		if usr.CreatedAt, err = parseTime(row[5]); err != nil {
			return errors.Wrapf(err, "line %d: created_at", i+2)
		}
		if usr.UpdatedAt, err = parseTime(row[6]); err != nil {
			return errors.Wrapf(err, "line %d: updated_at", i+2)
		}
		db.user.table[usr.ID] = &usr
	}
	return nil
}

func (db *DB) loadRecords() error {
	rows, err := readCSV(filepath.Join(db.snapshotDir, recordsFile))
	if err != nil || rows == nil {
		return err
	}
	for i, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			return errors.Wrapf(err, "line %d", i+2)
		}
		db.record.table[rec.ID] = &rec
		db.record.keys[rec.Key()] = rec.ID
	}
	return nil
}

// saveUsers must be called with the users table locked.
func (db *DB) saveUsers() error {
	if db.snapshotDir == "" {
		return nil
	}
	rows := make([][]string, 0, len(db.user.table))
	for _, usr := range db.user.table {
		hash := ""
		if len(usr.PasswordHash) > 0 {
			hash = base64.StdEncoding.EncodeToString(usr.PasswordHash)
		}
		rows = append(rows, []string{
			usr.ID, usr.Name, usr.Email, string(usr.Role), hash,
			formatTime(usr.CreatedAt), formatTime(usr.UpdatedAt),
		})
	}
	return db.writeCSV(usersFile, usersHeader, rows)
}

// saveRecords must be called with the records table locked.
func (db *DB) saveRecords() error {
	if db.snapshotDir == "" {
		return nil
	}
	rows := make([][]string, 0, len(db.record.table))
	for _, rec := range db.record.table {
		row, err := encodeRecord(*rec)
		if err != nil {
			return errors.Wrapf(err, "record %s", rec.ID)
		}
		rows = append(rows, row)
	}
	return db.writeCSV(recordsFile, recordsHeader, rows)
}

func encodeRecord(rec record.Record) ([]string, error) {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return nil, err
	}
	appeals, err := json.Marshal(rec.Appeals)
	if err != nil {
		return nil, err
	}
	return []string{
		rec.ID,
		rec.StudentID,
		rec.TeacherID,
		rec.Subject,
		strconv.Itoa(rec.Period),
		string(components),
		strconv.FormatFloat(rec.NumericScore, 'f', -1, 64),
		rec.LetterGrade,
		rec.Methodology,
		strconv.FormatBool(rec.Published),
		formatTime(rec.PublishedAt),
		formatTime(rec.Deadline),
		strconv.FormatBool(rec.AlertActive),
		string(appeals),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	}, nil
}

func decodeRecord(row []string) (rec record.Record, err error) {
	if len(row) != len(recordsHeader) {
		return rec, errors.Errorf("expected %d columns, got %d", len(recordsHeader), len(row))
	}
	rec.ID, rec.StudentID, rec.TeacherID, rec.Subject = row[0], row[1], row[2], row[3]
	if rec.Period, err = strconv.Atoi(row[4]); err != nil {
		return rec, errors.Wrap(err, "period")
	}
	if err = json.Unmarshal([]byte(row[5]), &rec.Components); err != nil {
		return rec, errors.Wrap(err, "components")
	}
	if rec.NumericScore, err = strconv.ParseFloat(row[6], 64); err != nil {
		return rec, errors.Wrap(err, "numeric_score")
	}
	rec.LetterGrade, rec.Methodology = row[7], row[8]
	if rec.Published, err = strconv.ParseBool(row[9]); err != nil {
		return rec, errors.Wrap(err, "published")
	}
	if rec.PublishedAt, err = parseTime(row[10]); err != nil {
		return rec, errors.Wrap(err, "published_at")
	}
	if rec.Deadline, err = parseTime(row[11]); err != nil {
		return rec, errors.Wrap(err, "deadline")
	}
	if rec.AlertActive, err = strconv.ParseBool(row[12]); err != nil {
		return rec, errors.Wrap(err, "alert_active")
	}
	if err = json.Unmarshal([]byte(row[13]), &rec.Appeals); err != nil {
		return rec, errors.Wrap(err, "appeals")
	}
	if rec.CreatedAt, err = parseTime(row[14]); err != nil {
		return rec, errors.Wrap(err, "created_at")
	}
	if rec.UpdatedAt, err = parseTime(row[15]); err != nil {
		return rec, errors.Wrap(err, "updated_at")
	}
	return rec, nil
}

// readCSV returns the rows of `path` without its header, or nil if it does not exist.
func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil { // header
		if err == io.EOF {
			return [][]string{}, nil
		}
		return nil, err
	}
	return r.ReadAll()
}

// writeCSV replaces `name` atomically.
func (db *DB) writeCSV(name string, header []string, rows [][]string) error {
	db.snapMutex.Lock()
	defer db.snapMutex.Unlock()

	tmp, err := ioutil.TempFile(db.snapshotDir, name+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(db.snapshotDir, name))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
