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

func TestObservers(t *testing.T) {
	m := New()
	m.ObserveAcquire("acquired")
	m.ObserveAcquire("acquired")
	m.ObserveDeactivation()
	m.ObserveFetch("search", "ok", 120*time.Millisecond)
	m.ObserveIngest("created")
	m.ObserveStatus("election", true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.CredentialAcquisitions.WithLabelValues("acquired")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CredentialDeactivated), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchRequests.WithLabelValues("search", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PostsIngested.WithLabelValues("created")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TopicCritical.WithLabelValues("election")), 0)

	m.ObserveStatus("election", false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.TopicCritical.WithLabelValues("election")), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAcquire("none")
	m.ObserveFetch("search", "ok", time.Second)
	m.ObserveSkip("no_credential")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveIngest("existing")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `rasad_posts_ingested_total{outcome="existing"} 1`))
}
