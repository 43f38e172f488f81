package testutil

import (
	"context"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/grading"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
	emailsvc "github.com/trezcool/autoregister/services/email"
	logsvc "github.com/trezcool/autoregister/services/logger"
	inmemdb "github.com/trezcool/autoregister/storage/database/inmem"
)

// Mock user directory
const (
	StudentID        = "1001"
	TeacherID        = "2005"
	DirectorID       = "3001"
	AdministrationID = "4002"
	RecordsOfficerID = "5003"
)

var MockUsers = []user.NewUser{
	{ID: StudentID, Name: "Ana", Email: "ana@example.com", Role: user.RoleStudent},
	{ID: TeacherID, Name: "Pedro", Email: "pedro@example.com", Role: user.RoleTeacher},
	{ID: DirectorID, Name: "Carmen", Email: "carmen@example.com", Role: user.RoleDirector},
	{ID: AdministrationID, Name: "Raquel", Email: "raquel@example.com", Role: user.RoleAdministration},
	{ID: RecordsOfficerID, Name: "Jose", Email: "jose@example.com", Role: user.RoleRecordsOfficer},
}

func CreateUser(t *testing.T, repo user.Repository, id, name, email, pwd string, role user.Role, createdAt ...time.Time) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        id,
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// SeedDirectory adds the mock users to `repo`.
func SeedDirectory(t *testing.T, repo user.Repository) {
	for _, nu := range MockUsers {
		CreateUser(t, repo, nu.ID, nu.Name, nu.Email, "", nu.Role)
	}
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Services wires the user and record services over an in-memory store.
type Services struct {
	Conf       *core.Config
	DB         *inmemdb.DB
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Mailer     *emailsvc.ConsoleServiceMock
	Clock      *Clock
	UserRepo   user.Repository
	RecordRepo record.Repository
	Users      *user.Service
	Records    *record.Service
}

// NewServices returns services over a store seeded with the mock users.
// `configure` may adjust the record service dependencies before it is built.
func NewServices(t *testing.T, configure ...func(deps *record.Deps)) *Services {
	conf := &core.Config{AppName: "AutoRegister", TestMode: true}
	conf.SetDefaultFromEmail("AutoRegister <noreply@example.com>")
	logger := logsvc.NewZerologLogger(ioutil.Discard, "error", "json")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	userRepo := inmemdb.NewUserRepository(db)
	recordRepo := inmemdb.NewRecordRepository(db)
	SeedDirectory(t, userRepo)

	calc, err := grading.NewCalculator(grading.PreWeighted, nil)
	if err != nil {
		t.Fatalf("grading.NewCalculator() failed: %v", err)
	}

	clock := NewClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.Local))
	mailer := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(userRepo, validate, translator)

	deps := record.Deps{
		Repo:       recordRepo,
		Users:      usrSvc,
		Calculator: calc,
		Validate:   validate,
		Translator: translator,
		Logger:     logger,
		Mailer:     mailer,
		Now:        clock.Now,
	}
	for _, fn := range configure {
		fn(&deps)
	}

	return &Services{
		Conf:       conf,
		DB:         db,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		Mailer:     mailer,
		Clock:      clock,
		UserRepo:   userRepo,
		RecordRepo: recordRepo,
		Users:      usrSvc,
		Records:    record.NewService(deps),
	}
}
