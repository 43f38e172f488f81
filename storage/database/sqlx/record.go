package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/autoregister/core/record"
)

var errKeyTaken = errors.New("another record exists for this student, subject and period")

type (
	recordRow struct {
		ID           string    `db:"id"`
		StudentID    string    `db:"student_id"`
		TeacherID    string    `db:"teacher_id"`
		Subject      string    `db:"subject"`
		Period       int       `db:"period"`
		Components   string    `db:"components"` // JSON
		NumericScore float64   `db:"numeric_score"`
		LetterGrade  string    `db:"letter_grade"`
		Methodology  string    `db:"methodology"`
		Published    bool      `db:"published"`
		PublishedAt  null.Time `db:"published_at"`
		Deadline     time.Time `db:"deadline"`
		AlertActive  bool      `db:"alert_active"`
		CreatedAt    time.Time `db:"created_at"`
		UpdatedAt    time.Time `db:"updated_at"`
	}

	appealRow struct {
		ID          string      `db:"id"`
		RecordID    string      `db:"record_id"`
		Position    int         `db:"position"`
		StudentID   string      `db:"student_id"`
		CreatedAt   time.Time   `db:"created_at"`
		Comment     string      `db:"comment"`
		State       string      `db:"state"`
		Response    string      `db:"response"`
		ResolvedBy  null.String `db:"resolved_by"`
		ResolvedAt  null.Time   `db:"resolved_at"`
		CorrectedAt null.Time   `db:"corrected_at"`
	}
)

const (
	recordColumns = "id, student_id, teacher_id, subject, period, components, numeric_score, letter_grade, " +
		"methodology, published, published_at, deadline, alert_active, created_at, updated_at"
	appealColumns = "id, record_id, position, student_id, created_at, comment, state, response, " +
		"resolved_by, resolved_at, corrected_at"
)

// column names a Filter may order by
var orderingColumns = map[string]string{
	"student_id":    "student_id",
	"teacher_id":    "teacher_id",
	"subject":       "subject",
	"period":        "period",
	"numeric_score": "numeric_score",
	"created_at":    "created_at",
	"updated_at":    "updated_at",
}

type recordRepository struct {
	db *sqlx.DB
}

var _ record.Repository = (*recordRepository)(nil) // interface compliance check

func NewRecordRepository(db *sqlx.DB) *recordRepository {
	return &recordRepository{db: db}
}

func toRecordRow(rec record.Record) (recordRow, error) {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return recordRow{}, errors.Wrap(err, "encoding components")
	}
	return recordRow{
		ID:           rec.ID,
		StudentID:    rec.StudentID,
		TeacherID:    rec.TeacherID,
		Subject:      rec.Subject,
		Period:       rec.Period,
		Components:   string(components),
		NumericScore: rec.NumericScore,
		LetterGrade:  rec.LetterGrade,
		Methodology:  rec.Methodology,
		Published:    rec.Published,
		PublishedAt:  null.NewTime(rec.PublishedAt, !rec.PublishedAt.IsZero()),
		Deadline:     rec.Deadline,
		AlertActive:  rec.AlertActive,
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}, nil
}

func fromRecordRow(row recordRow, appeals []appealRow) (record.Record, error) {
	rec := record.Record{
		ID:           row.ID,
		StudentID:    row.StudentID,
		TeacherID:    row.TeacherID,
		Subject:      row.Subject,
		Period:       row.Period,
		NumericScore: row.NumericScore,
		LetterGrade:  row.LetterGrade,
		Methodology:  row.Methodology,
		Published:    row.Published,
		Deadline:     row.Deadline.Local(),
		AlertActive:  row.AlertActive,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.PublishedAt.Valid {
		rec.PublishedAt = row.PublishedAt.Time.Local()
	}
	if err := json.Unmarshal([]byte(row.Components), &rec.Components); err != nil {
		return record.Record{}, errors.Wrapf(err, "decoding components of record %s", row.ID)
	}
	for _, a := range appeals {
		appeal := record.Appeal{
			ID:         a.ID,
			StudentID:  a.StudentID,
			CreatedAt:  a.CreatedAt.Local(),
			Comment:    a.Comment,
			State:      record.AppealState(a.State),
			Response:   a.Response,
			ResolvedBy: a.ResolvedBy.String,
		}
		if a.ResolvedAt.Valid {
			appeal.ResolvedAt = a.ResolvedAt.Time.Local()
		}
		if a.CorrectedAt.Valid {
			appeal.CorrectedAt = a.CorrectedAt.Time.Local()
		}
		rec.Appeals = append(rec.Appeals, appeal)
	}
	return rec, nil
}

// trapNoRowsErr maps psql "no rows" err to record.ErrRecordNotFound
func (repo recordRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return record.ErrRecordNotFound
	}
	return errors.Wrap(err, msg)
}

// appeals returns the appeals of `recordIDs` by record ID, in submission order.
func (repo recordRepository) appeals(ctx context.Context, recordIDs ...string) (map[string][]appealRow, error) {
	res := make(map[string][]appealRow, len(recordIDs))
	if len(recordIDs) == 0 {
		return res, nil
	}
	q, args, err := sqlx.In("SELECT "+appealColumns+" FROM appeals WHERE record_id IN (?) ORDER BY record_id, position", recordIDs)
	if err != nil {
		return nil, err
	}
	var rows []appealRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying appeals")
	}
	for _, row := range rows {
		res[row.RecordID] = append(res[row.RecordID], row)
	}
	return res, nil
}

func (repo recordRepository) get(ctx context.Context, where string, args ...interface{}) (record.Record, error) {
	var row recordRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+recordColumns+" FROM grade_records WHERE "+where, args...); err != nil {
		return record.Record{}, repo.trapNoRowsErr(err, "getting record")
	}
	appeals, err := repo.appeals(ctx, row.ID)
	if err != nil {
		return record.Record{}, err
	}
	return fromRecordRow(row, appeals[row.ID])
}

func (repo recordRepository) FindByKey(ctx context.Context, key record.Key) (record.Record, error) {
	return repo.get(ctx, "student_id = $1 AND subject = $2 AND period = $3", key.StudentID, key.Subject, key.Period)
}

func (repo recordRepository) FindByID(ctx context.Context, id string) (record.Record, error) {
	return repo.get(ctx, "id = $1", id)
}

// Upsert writes the record and replaces its appeals in one transaction.
func (repo recordRepository) Upsert(ctx context.Context, rec record.Record) (_ record.Record, err error) {
	row, err := toRecordRow(rec)
	if err != nil {
		return record.Record{}, err
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return record.Record{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := "INSERT INTO grade_records (" + recordColumns + ") VALUES (" +
		":id, :student_id, :teacher_id, :subject, :period, :components, :numeric_score, :letter_grade, " +
		":methodology, :published, :published_at, :deadline, :alert_active, :created_at, :updated_at) " +
		"ON CONFLICT (id) DO UPDATE SET " +
		"student_id = EXCLUDED.student_id, teacher_id = EXCLUDED.teacher_id, subject = EXCLUDED.subject, " +
		"period = EXCLUDED.period, components = EXCLUDED.components, numeric_score = EXCLUDED.numeric_score, " +
		"letter_grade = EXCLUDED.letter_grade, methodology = EXCLUDED.methodology, published = EXCLUDED.published, " +
		"published_at = EXCLUDED.published_at, deadline = EXCLUDED.deadline, alert_active = EXCLUDED.alert_active, " +
		"updated_at = EXCLUDED.updated_at"
	if _, err = tx.NamedExecContext(ctx, q, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return record.Record{}, errKeyTaken
		}
		return record.Record{}, errors.Wrap(err, "upserting record")
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM appeals WHERE record_id = $1", rec.ID); err != nil {
		return record.Record{}, errors.Wrap(err, "deleting appeals")
	}
	for i, a := range rec.Appeals {
		aRow := appealRow{
			ID:          a.ID,
			RecordID:    rec.ID,
			Position:    i,
			StudentID:   a.StudentID,
			CreatedAt:   a.CreatedAt,
			Comment:     a.Comment,
			State:       string(a.State),
			Response:    a.Response,
			ResolvedBy:  null.NewString(a.ResolvedBy, a.ResolvedBy != ""),
			ResolvedAt:  null.NewTime(a.ResolvedAt, !a.ResolvedAt.IsZero()),
			CorrectedAt: null.NewTime(a.CorrectedAt, !a.CorrectedAt.IsZero()),
		}
		q := "INSERT INTO appeals (" + appealColumns + ") VALUES (" +
			":id, :record_id, :position, :student_id, :created_at, :comment, :state, :response, " +
			":resolved_by, :resolved_at, :corrected_at)"
		if _, err = tx.NamedExecContext(ctx, q, aRow); err != nil {
			return record.Record{}, errors.Wrap(err, "inserting appeal")
		}
	}

	if err = tx.Commit(); err != nil {
		return record.Record{}, errors.Wrap(err, "committing record")
	}
	return rec.Clone(), nil
}

func (repo recordRepository) Query(ctx context.Context, filter record.Filter) ([]record.Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.StudentID != "" {
		conds = append(conds, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		conds = append(conds, "teacher_id = ?")
		args = append(args, filter.TeacherID)
	}
	if filter.Subject != "" {
		conds = append(conds, "subject = ?")
		args = append(args, filter.Subject)
	}
	if filter.Period != 0 {
		conds = append(conds, "period = ?")
		args = append(args, filter.Period)
	}
	if filter.PublishedOnly {
		conds = append(conds, "published")
	}
	if filter.AlertOnly {
		conds = append(conds, "alert_active")
	}

	q := "SELECT " + recordColumns + " FROM grade_records"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	ordering := filter.Ordering
	if len(ordering) == 0 {
		ordering = record.DefaultOrdering
	}
	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if col, ok := orderingColumns[ord.Field]; ok {
			ord.Field = col
			orderList = append(orderList, ord.String())
		}
	}
	orderList = append(orderList, "id ASC")
	q += " ORDER BY " + strings.Join(orderList, ", ")

	var rows []recordRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying records")
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	appeals, err := repo.appeals(ctx, ids...)
	if err != nil {
		return nil, err
	}

	records := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRecordRow(row, appeals[row.ID])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
