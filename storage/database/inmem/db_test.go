package inmemdb

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
)

func testRecord(id, student, subject string, period int) record.Record {
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
	return record.Record{
		ID:           id,
		StudentID:    student,
		TeacherID:    "2005",
		Subject:      subject,
		Period:       period,
		Components:   map[string]float64{"participacion": 18, "prueba_mensual": 22},
		NumericScore: 40,
		LetterGrade:  "F+",
		AlertActive:  true,
		Deadline:     core.Today(now).AddDate(0, 0, 7),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestRecordRepository_Upsert(t *testing.T) {
	db, err := Open()
	require.NoError(t, err)
	repo := NewRecordRepository(db)
	ctx := context.Background()

	rec := testRecord("r1", "1001", "Matematicas", 1)
	_, err = repo.Upsert(ctx, rec)
	require.NoError(t, err)

	t.Run("returns copies", func(t *testing.T) {
		got, err := repo.FindByID(ctx, "r1")
		require.NoError(t, err)
		got.Components["participacion"] = 0

		again, err := repo.FindByID(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, 18.0, again.Components["participacion"])
	})

	t.Run("find by key", func(t *testing.T) {
		got, err := repo.FindByKey(ctx, record.Key{StudentID: "1001", Subject: "Matematicas", Period: 1})
		require.NoError(t, err)
		assert.Equal(t, "r1", got.ID)

		_, err = repo.FindByKey(ctx, record.Key{StudentID: "1001", Subject: "Matematicas", Period: 2})
		assert.ErrorIs(t, err, record.ErrRecordNotFound)
	})

	t.Run("replaces by ID", func(t *testing.T) {
		rec.NumericScore = 55
		_, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)

		recs, err := repo.Query(ctx, record.Filter{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, 55.0, recs[0].NumericScore)
	})

	t.Run("rejects a duplicate natural key", func(t *testing.T) {
		_, err := repo.Upsert(ctx, testRecord("r2", "1001", "Matematicas", 1))
		assert.Error(t, err)

		_, err = repo.FindByID(ctx, "r2")
		assert.ErrorIs(t, err, record.ErrRecordNotFound)
	})

	t.Run("requires an ID", func(t *testing.T) {
		_, err := repo.Upsert(ctx, testRecord("", "1001", "Historia", 1))
		assert.Error(t, err)
	})
}

func TestRecordRepository_Query(t *testing.T) {
	db, err := Open()
	require.NoError(t, err)
	repo := NewRecordRepository(db)
	ctx := context.Background()

	recs := []record.Record{
		testRecord("r1", "1001", "Matematicas", 2),
		testRecord("r2", "1001", "Historia", 1),
		testRecord("r3", "1002", "Historia", 1),
	}
	recs[0].Published = true
	recs[0].NumericScore = 90
	recs[1].AlertActive = false
	recs[2].TeacherID = "2006"
	recs[2].NumericScore = 70
	for _, rec := range recs {
		_, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	ids := func(recs []record.Record) []string {
		res := make([]string, 0, len(recs))
		for _, rec := range recs {
			res = append(res, rec.ID)
		}
		return res
	}

	tests := []struct {
		name   string
		filter record.Filter
		want   []string
	}{
		{name: "default ordering", filter: record.Filter{}, want: []string{"r2", "r1", "r3"}},
		{name: "by student", filter: record.Filter{StudentID: "1001"}, want: []string{"r2", "r1"}},
		{name: "by teacher", filter: record.Filter{TeacherID: "2006"}, want: []string{"r3"}},
		{name: "by subject and period", filter: record.Filter{Subject: "Historia", Period: 1}, want: []string{"r2", "r3"}},
		{name: "published only", filter: record.Filter{PublishedOnly: true}, want: []string{"r1"}},
		{name: "alerts only", filter: record.Filter{AlertOnly: true}, want: []string{"r1", "r3"}},
		{
			name:   "by score descending",
			filter: record.Filter{Ordering: core.ParseOrdering("-numeric_score")},
			want:   []string{"r1", "r3", "r2"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.Query(ctx, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestUserRepository(t *testing.T) {
	db, err := Open()
	require.NoError(t, err)
	repo := NewUserRepository(db)
	ctx := context.Background()

	ana := user.User{ID: "1001", Name: "Ana", Email: "ana@example.com", Role: user.RoleStudent}
	_, err = repo.CreateUser(ctx, ana)
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, user.User{ID: "2005", Name: "Pedro", Role: user.RoleTeacher})
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, ana)
	assert.ErrorIs(t, err, user.ErrUserExists)

	got, err := repo.GetUser(ctx, user.GetFilter{IDOrEmail: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "1001", got.ID)

	_, err = repo.GetUser(ctx, user.GetFilter{ID: "9999"})
	assert.ErrorIs(t, err, user.ErrNotFound)

	assert.ErrorIs(t, repo.CheckEmailUniqueness(ctx, "ana@example.com", ""), user.ErrEmailExists)
	assert.NoError(t, repo.CheckEmailUniqueness(ctx, "ana@example.com", "1001"))

	teachers, err := repo.QueryUsers(ctx, user.QueryFilter{Roles: []user.Role{user.RoleTeacher}})
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	assert.Equal(t, "2005", teachers[0].ID)

	found, err := repo.QueryUsers(ctx, user.QueryFilter{Search: "an"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ana", found[0].Name)

	_, err = repo.UpdateUser(ctx, user.User{ID: "9999"})
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(WithSnapshot(dir))
	require.NoError(t, err)

	usr := user.User{ID: "1001", Name: "Ana, \"la estudiante\"", Email: "ana@example.com", Role: user.RoleStudent}
	require.NoError(t, usr.SetPassword("s3cret-Pass"))
	_, err = NewUserRepository(db).CreateUser(ctx, usr)
	require.NoError(t, err)

	rec := testRecord("r1", "1001", "Matematicas", 1)
	rec.Methodology = "pruebas escritas,\nexposiciones"
	rec.Appeals = []record.Appeal{{
		ID:        "a1",
		StudentID: "1001",
		CreatedAt: rec.CreatedAt,
		Comment:   "revisar la exposicion",
		State:     record.AppealPending,
	}}
	_, err = NewRecordRepository(db).Upsert(ctx, rec)
	require.NoError(t, err)

	content, err := ioutil.ReadFile(filepath.Join(dir, recordsFile))
	require.NoError(t, err)
	assert.Contains(t, string(content), "student_id")

	reopened, err := Open(WithSnapshot(dir))
	require.NoError(t, err)

	gotUsr, err := NewUserRepository(reopened).GetUser(ctx, user.GetFilter{ID: "1001"})
	require.NoError(t, err)
	assert.Equal(t, usr.Name, gotUsr.Name)
	assert.NoError(t, gotUsr.CheckPassword("s3cret-Pass"))

	gotRec, err := NewRecordRepository(reopened).FindByKey(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, rec.Components, gotRec.Components)
	assert.Equal(t, rec.Methodology, gotRec.Methodology)
	assert.True(t, rec.Deadline.Equal(gotRec.Deadline))
	assert.True(t, gotRec.PublishedAt.IsZero())
	require.Len(t, gotRec.Appeals, 1)
	assert.Equal(t, record.AppealPending, gotRec.Appeals[0].State)
	assert.True(t, gotRec.Appeals[0].ResolvedAt.IsZero())

	assert.NoError(t, reopened.Close())
}
