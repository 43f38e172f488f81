package shared

import (
	"context"
	"fmt"
	"io"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/grading"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
	emailsvc "github.com/trezcool/autoregister/services/email"
	logsvc "github.com/trezcool/autoregister/services/logger"
	metricsvc "github.com/trezcool/autoregister/services/metrics"
	"github.com/trezcool/autoregister/storage"
	"github.com/trezcool/autoregister/storage/lock/redislock"
	"github.com/trezcool/autoregister/storage/seed"
)

const (
	metricsNamespace = "autoregister"
	lockPrefix       = "autoregister:lock:"
)

var errInvalidEditWindow = errors.New("grading.editWindowDays must be a positive number of days")

// App holds the dependencies shared by the API server and the admin CLI.
type App struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Storage    *storage.Storage
	Mailer     core.EmailService
	Metrics    *metricsvc.Metrics
	Users      *user.Service
	Records    *record.Service

	redis *redis.Client
}

// NewLogger logs to `w` with zerolog, and reports to Rollbar when a token is configured.
func NewLogger(conf *core.Config, w io.Writer) core.Logger {
	var logger core.Logger = logsvc.NewZerologLogger(w, conf.Log.Level, conf.Log.Format)
	if conf.RollbarToken != "" {
		rlogger := logsvc.NewRollbarLogger(logger, conf)
		rlogger.Enable(!conf.Debug)
		logger = rlogger
	}
	return logger
}

// NewValidator returns a validator with the custom validations and english translations registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// NewApp opens the storage and builds the services. Call Close when done.
func NewApp(conf *core.Config, logger core.Logger) (*App, error) {
	app := &App{Conf: conf, Logger: logger}
	app.Validate, app.Translator = NewValidator()

	var err error
	if app.Storage, err = storage.Open(conf, logger); err != nil {
		return nil, errors.Wrap(err, "opening storage")
	}

	if conf.SendgridApiKey != "" {
		app.Mailer = emailsvc.NewSendgridService(conf, logger)
	} else {
		app.Mailer = emailsvc.NewConsoleService(conf, logger)
	}

	var locker core.Locker
	if conf.Redis.Address != "" {
		if app.redis, err = redislock.NewClient(conf); err != nil {
			app.Close()
			return nil, errors.Wrap(err, "connecting to redis")
		}
		locker = redislock.New(app.redis, lockPrefix, 0, logger)
	}

	if conf.Grading.EditWindowDays <= 0 {
		app.Close()
		return nil, errors.Wrapf(errInvalidEditWindow, "%d days", conf.Grading.EditWindowDays)
	}

	calc, err := grading.NewCalculator(grading.Mode(conf.Grading.Mode), conf.Grading.Weights)
	if err != nil {
		app.Close()
		return nil, errors.Wrap(err, "setting up grade calculator")
	}
	app.Metrics = metricsvc.New(metricsNamespace)

	app.Users = user.NewService(app.Storage.Users, app.Validate, app.Translator)
	app.Records = record.NewService(record.Deps{
		Repo:               app.Storage.Records,
		Users:              app.Users,
		Calculator:         calc,
		Validate:           app.Validate,
		Translator:         app.Translator,
		Logger:             logger,
		Locker:             locker,
		Mailer:             app.Mailer,
		Metrics:            app.Metrics,
		EditWindowDays:     conf.Grading.EditWindowDays,
		RequireMethodology: conf.Grading.RequireMethodology,
	})
	return app, nil
}

// SeedUsers creates the users of the configured YAML directory that do not exist yet.
func (app *App) SeedUsers(ctx context.Context) error {
	if app.Conf.Storage.Users == "" {
		return nil
	}
	users, err := seed.LoadUsers(app.Conf.Path(app.Conf.Storage.Users))
	if err != nil {
		return errors.Wrap(err, "loading user directory")
	}
	created, err := seed.Users(ctx, app.Users, users, app.Logger)
	if err != nil {
		return errors.Wrap(err, "seeding users")
	}
	app.Logger.Info(fmt.Sprintf("user directory loaded: %d new users", created))
	return nil
}

// Close releases the storage and the Redis connection.
func (app *App) Close() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.Logger.Error(fmt.Sprintf("closing redis: %v", err), err)
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Error(fmt.Sprintf("closing storage: %v", err), err)
		}
	}
}
