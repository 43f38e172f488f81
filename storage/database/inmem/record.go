package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core/record"
)

var errKeyTaken = errors.New("another record exists for this student, subject and period")

type recordRepository struct {
	db    *DB
	table *recordTable
}

var _ record.Repository = (*recordRepository)(nil) // interface compliance check

func NewRecordRepository(db *DB) *recordRepository {
	return &recordRepository{db: db, table: db.record}
}

func (repo *recordRepository) FindByKey(_ context.Context, key record.Key) (record.Record, error) {
	repo.table.mutex.RLock()
	defer repo.table.mutex.RUnlock()

	if id, ok := repo.table.keys[key]; ok {
		return repo.table.table[id].Clone(), nil
	}
	return record.Record{}, record.ErrRecordNotFound
}

func (repo *recordRepository) FindByID(_ context.Context, id string) (record.Record, error) {
	repo.table.mutex.RLock()
	defer repo.table.mutex.RUnlock()

	if rec, ok := repo.table.table[id]; ok {
		return rec.Clone(), nil
	}
	return record.Record{}, record.ErrRecordNotFound
}

func (repo *recordRepository) Upsert(_ context.Context, rec record.Record) (record.Record, error) {
	if rec.ID == "" {
		return record.Record{}, errors.New("record without ID")
	}

	repo.table.mutex.Lock()
	defer repo.table.mutex.Unlock()

	key := rec.Key()
	if id, ok := repo.table.keys[key]; ok && id != rec.ID {
		return record.Record{}, errKeyTaken
	}

	prev, existed := repo.table.table[rec.ID]
	c := rec.Clone()
	repo.table.table[rec.ID] = &c
	if existed {
		delete(repo.table.keys, prev.Key())
	}
	repo.table.keys[key] = rec.ID

	if err := repo.db.saveRecords(); err != nil {
		// roll back
		delete(repo.table.keys, key)
		if existed {
			repo.table.table[rec.ID] = prev
			repo.table.keys[prev.Key()] = rec.ID
		} else {
			delete(repo.table.table, rec.ID)
		}
		return record.Record{}, errors.Wrap(err, "saving records snapshot")
	}
	return c.Clone(), nil
}

func (repo *recordRepository) Query(_ context.Context, filter record.Filter) ([]record.Record, error) {
	repo.table.mutex.RLock()
	defer repo.table.mutex.RUnlock()

	records := make([]record.Record, 0)
	for _, rec := range repo.table.table {
		if filter.Match(*rec) {
			records = append(records, rec.Clone())
		}
	}

	ordering := filter.Ordering
	if len(ordering) == 0 {
		ordering = record.DefaultOrdering
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareField(records[i], records[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// compareField returns -1, 0 or 1 as the `field` of a is lower, equal or greater than the one of b.
func compareField(a, b record.Record, field string) int {
	switch field {
	case "student_id":
		return strings.Compare(a.StudentID, b.StudentID)
	case "teacher_id":
		return strings.Compare(a.TeacherID, b.TeacherID)
	case "subject":
		return strings.Compare(a.Subject, b.Subject)
	case "period":
		return compareFloat(float64(a.Period), float64(b.Period))
	case "numeric_score":
		return compareFloat(a.NumericScore, b.NumericScore)
	case "created_at":
		return compareFloat(float64(a.CreatedAt.UnixNano()), float64(b.CreatedAt.UnixNano()))
	case "updated_at":
		return compareFloat(float64(a.UpdatedAt.UnixNano()), float64(b.UpdatedAt.UnixNano()))
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
