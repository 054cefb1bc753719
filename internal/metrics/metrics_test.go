package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-funnel/internal/metrics"
)

func TestRetryObserverCountsPerOperation(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	observe := m.RetryObserver("deliver")
	observe(1, errors.New("503"))
	observe(2, errors.New("503"))

	assert.Equal(t, 2.0, promtest.ToFloat64(m.Retries.WithLabelValues("deliver")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.Retries.WithLabelValues("execute")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.HealthScore.Set(97.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "funnel_integrity_health_score 97.5")
}
