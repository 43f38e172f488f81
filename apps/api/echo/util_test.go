package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/autoregister/apps/api/echo"
	"github.com/trezcool/autoregister/core/user"
	metricsvc "github.com/trezcool/autoregister/services/metrics"
	"github.com/trezcool/autoregister/tests"
)

var (
	ctxBg           = context.Background()
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

type testApp struct {
	*echoapi.Server
	svcs *testutil.Services
}

func setup(t *testing.T) *testApp {
	svcs := testutil.NewServices(t)
	svcs.Conf.SecretKey = "test-secret"
	svcs.Conf.Server.JWTExpirationDelta = time.Hour
	svcs.Conf.Server.DisableReqLogs = true

	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       svcs.Conf,
		Logger:     svcs.Logger,
		UserSvc:    svcs.Users,
		RecordSvc:  svcs.Records,
		Validate:   svcs.Validate,
		Translator: svcs.Translator,
		Metrics:    metricsvc.New("autoregister").Handler(),
	})
	t.Cleanup(func() { _ = srv.Close() })
	return &testApp{Server: srv, svcs: svcs}
}

// token returns a valid token of the mock user `id`.
func (app *testApp) token(t *testing.T, id string) string {
	usr, err := app.svcs.Users.GetByID(ctxBg, id)
	require.NoError(t, err)
	token, err := echoapi.GenerateToken(app.svcs.Conf, echoapi.NewClaims(app.svcs.Conf, usr))
	require.NoError(t, err)
	return token
}

// do serves a JSON request and returns the recorder.
func (app *testApp) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantData interface{} // compared as JSON when set
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(marchallObj(t, tt.wantData)), rec.Body.String())
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			checkCodeAndData(t, tt, app.do(method, tt.path, tt.token, tt.body))
		})
	}
}

func setPassword(t *testing.T, app *testApp, id, pwd string) user.User {
	usr, err := app.svcs.Users.SetPassword(ctxBg, id, pwd)
	require.NoError(t, err)
	return usr
}
