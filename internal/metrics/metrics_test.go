package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	m := New()

	m.ObserveStage("S4_LGD", "SUCCESS", 2*time.Second, 120)
	m.ObserveStage("S4_LGD", "FAILED", time.Second, 0)
	m.RejectRows("S4_LGD", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageOutcome.WithLabelValues("S4_LGD", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageOutcome.WithLabelValues("S4_LGD", "FAILED")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.rowsWritten.WithLabelValues("S4_LGD")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rowsRejected.WithLabelValues("S4_LGD")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("S1_STAGE_SEED", "SUCCESS", time.Second, 1)
	m.RejectRows("S1_STAGE_SEED", 1)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveStage("S8_ECL", "SUCCESS", time.Second, 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ecl_stage_runs_total"))
}
