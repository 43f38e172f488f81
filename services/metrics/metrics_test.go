package metricsvc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/autoregister/core/record"
)

func TestMetrics_ObserveOperation(t *testing.T) {
	m := New("autoregister")

	m.ObserveOperation("publish", record.KindNone, time.Millisecond)
	m.ObserveOperation("publish", record.KindNone, time.Millisecond)
	m.ObserveOperation("publish", record.KindPermissionDenied, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("publish", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("publish", "permission_denied")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autoregister_record_operations_total{operation="publish",outcome="ok"} 2`)
	assert.Contains(t, rec.Body.String(), "autoregister_record_operation_duration_seconds")
}
