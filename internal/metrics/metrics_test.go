package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.Request("/registry/search", true)
	m.Request("/registry/search", false)
	m.Request("/registry/search", true)
	m.Response("/registry/search", 202)
	m.CallbackOutcome(OutcomeScheduled)
	m.CallbackDelivery(15*time.Millisecond, true)
	m.CallbackDelivery(time.Second, false)
	m.Recordings(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/registry/search", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/registry/search", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesTotal.WithLabelValues("/registry/search", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbacksTotal.WithLabelValues(OutcomeDelivered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbacksTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.recordings))
	assert.Equal(t, 1, testutil.CollectAndCount(m.callbackLatency))
}

func TestRegisterTwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New(reg).Register())
	require.NoError(t, New(reg).Register(), "already registered collectors are tolerated")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Request("/x", true)
	m.Response("/x", 200)
	m.CallbackOutcome(OutcomeDropped)
	m.CallbackDelivery(time.Millisecond, true)
	m.Recordings(3)
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	m.Request("/registry/search", true)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `registry_mock_requests_total{endpoint="/registry/search",valid="true"} 1`)
}
