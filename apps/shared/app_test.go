package shared

import (
	"context"
	"io/ioutil"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
)

func TestNewApp(t *testing.T) {
	conf := &core.Config{AppName: "AutoRegister", WorkDir: core.Getwd()}
	conf.Storage.Users = "config/users.yaml"
	conf.Grading.EditWindowDays = 3
	logger := NewLogger(conf, ioutil.Discard)

	app, err := NewApp(conf, logger)
	require.NoError(t, err)
	defer app.Close()

	ctx := context.Background()
	require.NoError(t, app.SeedUsers(ctx))
	require.NoError(t, app.SeedUsers(ctx), "seeding twice is a no-op")

	teacher, err := app.Users.Resolve(ctx, "2005")
	require.NoError(t, err)
	assert.True(t, teacher.Capabilities.FillFields)

	res, err := app.Records.CreateOrUpdate(ctx, "2005", record.Entry{
		StudentID:  "1001",
		Subject:    "Historia",
		Period:     2,
		Components: map[string]float64{"participacion": 20, "prueba_mensual": 25},
	})
	require.NoError(t, err)
	assert.Equal(t, 45.0, res.NumericScore)
	assert.True(t, core.AddDays(time.Now(), 3).Equal(res.Record.Deadline), res.Record.Deadline)
}

func TestNewApp_invalidGradingMode(t *testing.T) {
	conf := &core.Config{WorkDir: t.TempDir()}
	conf.Grading.Mode = "curved"
	conf.Grading.EditWindowDays = 7

	_, err := NewApp(conf, NewLogger(conf, ioutil.Discard))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errInvalidEditWindow)
}

func TestNewApp_invalidEditWindow(t *testing.T) {
	for _, days := range []int{0, -3} {
		conf := &core.Config{WorkDir: t.TempDir()}
		conf.Grading.EditWindowDays = days

		_, err := NewApp(conf, NewLogger(conf, ioutil.Discard))
		assert.ErrorIs(t, err, errInvalidEditWindow, "%d days", days)
	}
}
