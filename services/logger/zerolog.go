package logsvc

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/user"
)

// ZerologLogger writes leveled, structured logs.
type ZerologLogger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*ZerologLogger)(nil)

// NewZerologLogger logs to `w` at `level` (debug, info, warn, error; defaults to info),
// as JSON lines or, when `format` is "console", as human readable lines.
func NewZerologLogger(w io.Writer, level, format string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return &ZerologLogger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l *ZerologLogger) log(e *zerolog.Event, msg string, args []interface{}) {
	for _, arg := range args {
		switch a := arg.(type) {
		case nil:
		case error:
			e = e.Err(a)
		case map[string]interface{}:
			e = e.Fields(a)
		case user.User:
			e = e.Str("user_id", a.ID).Str("user_role", string(a.Role))
		default:
			e = e.Interface("extra", a)
		}
	}
	e.Msg(msg)
}

func (l *ZerologLogger) Debug(msg string, args ...interface{}) {
	l.log(l.zl.Debug(), msg, args)
}

func (l *ZerologLogger) Info(msg string, args ...interface{}) {
	l.log(l.zl.Info(), msg, args)
}

func (l *ZerologLogger) Warn(msg string, args ...interface{}) {
	l.log(l.zl.Warn(), msg, args)
}

func (l *ZerologLogger) Error(msg string, args ...interface{}) {
	l.log(l.zl.Error(), msg, args)
}

func (l *ZerologLogger) Fatal(msg string, args ...interface{}) {
	l.log(l.zl.Fatal(), msg, args)
}
