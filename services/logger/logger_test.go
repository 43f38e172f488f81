package logsvc

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/autoregister/core/user"
)

func TestZerologLogger(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := NewZerologLogger(buf, "info", "json")

	logger.Debug("hidden")
	assert.Zero(t, buf.Len(), "debug entries are below the info level")

	logger.Error("publish failed",
		errors.New("boom"),
		map[string]interface{}{"op": "publish"},
		user.User{ID: "2005", Role: user.RoleTeacher},
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "publish failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "publish", entry["op"])
	assert.Equal(t, "2005", entry["user_id"])
	assert.Equal(t, "teacher", entry["user_role"])
}

func TestNewZerologLogger_unknownLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := NewZerologLogger(buf, "chatty", "json")

	logger.Debug("hidden")
	logger.Info("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.NotContains(t, buf.String(), "hidden")
}
