package sqlxrepos

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
	"github.com/trezcool/autoregister/storage/database"
)

// prepareDB connects to the database named by TEST_DATABASE_URL, migrated and emptied.
func prepareDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenDSN(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db.DB))
	_, err = db.Exec("TRUNCATE appeals, grade_records, users CASCADE")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRepositories(t *testing.T) {
	db := prepareDB(t)
	ctx := context.Background()
	users := NewUserRepository(db)
	records := NewRecordRepository(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	ana := user.User{ID: "1001", Name: "Ana", Email: "ana@example.com", Role: user.RoleStudent, CreatedAt: now, UpdatedAt: now}
	_, err := users.CreateUser(ctx, ana)
	require.NoError(t, err)
	_, err = users.CreateUser(ctx, ana)
	assert.ErrorIs(t, err, user.ErrUserExists)

	got, err := users.GetUser(ctx, user.GetFilter{IDOrEmail: "ANA@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "1001", got.ID)
	assert.ErrorIs(t, users.CheckEmailUniqueness(ctx, "ana@example.com", ""), user.ErrEmailExists)

	_, err = users.GetUser(ctx, user.GetFilter{ID: "9999"})
	assert.ErrorIs(t, err, user.ErrNotFound)

	found, err := users.QueryUsers(ctx, user.QueryFilter{Search: "an", Roles: []user.Role{user.RoleStudent}})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	today := core.Today(time.Now())
	rec := record.Record{
		ID:           "r1",
		StudentID:    "1001",
		TeacherID:    "2005",
		Subject:      "Matematicas",
		Period:       1,
		Components:   map[string]float64{"participacion": 18, "prueba_mensual": 23},
		NumericScore: 41,
		LetterGrade:  "F+",
		Deadline:     today.AddDate(0, 0, 7),
		AlertActive:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = records.Upsert(ctx, rec)
	require.NoError(t, err)

	rec.Published = true
	rec.PublishedAt = today
	rec.Appeals = []record.Appeal{{ID: "a1", StudentID: "1001", CreatedAt: today, Comment: "revisar", State: record.AppealPending}}
	_, err = records.Upsert(ctx, rec)
	require.NoError(t, err)

	stored, err := records.FindByKey(ctx, rec.Key())
	require.NoError(t, err)
	assert.True(t, stored.Published)
	assert.True(t, today.Equal(stored.PublishedAt))
	assert.True(t, rec.Deadline.Equal(stored.Deadline))
	assert.Equal(t, rec.Components, stored.Components)
	require.Len(t, stored.Appeals, 1)
	assert.True(t, stored.Appeals[0].ResolvedAt.IsZero())

	dup := rec
	dup.ID = "r2"
	dup.Appeals = nil
	_, err = records.Upsert(ctx, dup)
	assert.Error(t, err)

	_, err = records.FindByID(ctx, "r2")
	assert.ErrorIs(t, err, record.ErrRecordNotFound)

	recs, err := records.Query(ctx, record.Filter{StudentID: "1001", PublishedOnly: true, Ordering: core.ParseOrdering("-numeric_score")})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Appeals, 1)
}
