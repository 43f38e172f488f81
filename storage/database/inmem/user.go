package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core/user"
)

type userRepository struct {
	db    *DB
	table *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db, table: db.user}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.table.table))
	for _, u := range repo.table.table {
		users = append(users, copyUser(*u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (repo *userRepository) CheckEmailUniqueness(_ context.Context, email string, excludedID string) error {
	repo.table.mutex.RLock()
	defer repo.table.mutex.RUnlock()

	for _, usr := range repo.table.table {
		if usr.Email != "" && usr.Email == email && usr.ID != excludedID {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.table.mutex.Lock()
	defer repo.table.mutex.Unlock()

	if _, ok := repo.table.table[usr.ID]; ok {
		return user.User{}, user.ErrUserExists
	}
	u := copyUser(usr)
	repo.table.table[usr.ID] = &u
	if err := repo.db.saveUsers(); err != nil {
		delete(repo.table.table, usr.ID)
		return user.User{}, errors.Wrap(err, "saving users snapshot")
	}
	return copyUser(u), nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.table.mutex.RLock()
	defer repo.table.mutex.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.table.table[filter.ID]; ok {
			return copyUser(*usr), nil
		}
		return user.User{}, user.ErrNotFound
	}
	if filter.IDOrEmail != "" {
		if usr, ok := repo.table.table[filter.IDOrEmail]; ok {
			return copyUser(*usr), nil
		}
		email := strings.ToLower(filter.IDOrEmail)
		for _, usr := range repo.query() {
			if usr.Email != "" && usr.Email == email {
				return usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryUsers(_ context.Context, filter user.QueryFilter) ([]user.User, error) {
	repo.table.mutex.RLock()
	defer repo.table.mutex.RUnlock()

	search := strings.ToLower(filter.Search)
	users := make([]user.User, 0)
	for _, usr := range repo.query() {
		if search != "" &&
			!strings.Contains(strings.ToLower(usr.ID), search) &&
			!strings.Contains(strings.ToLower(usr.Name), search) &&
			!strings.Contains(usr.Email, search) {
			continue
		}
		if len(filter.Roles) > 0 && !hasRole(usr, filter.Roles) {
			continue
		}
		users = append(users, usr)
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.table.mutex.Lock()
	defer repo.table.mutex.Unlock()

	origUsr, ok := repo.table.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	prev := copyUser(*origUsr)
	u := copyUser(usr)
	u.CreatedAt = origUsr.CreatedAt
	repo.table.table[usr.ID] = &u
	if err := repo.db.saveUsers(); err != nil {
		repo.table.table[usr.ID] = &prev
		return user.User{}, errors.Wrap(err, "saving users snapshot")
	}
	return copyUser(u), nil
}

func hasRole(usr user.User, roles []user.Role) bool {
	for _, r := range roles {
		if usr.Role == r {
			return true
		}
	}
	return false
}

func copyUser(u user.User) user.User {
	if u.PasswordHash != nil {
		u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	}
	return u
}
