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

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("online")
		m.ObserveThresholdLookup("hit")
		m.ObserveQuoteCache(true)
		m.ObserveQuoterCall("quote", false, time.Second)
		m.ObserveBatchItem(true)
		m.ObserveHTTPRequest("/x", "GET", "OK", time.Millisecond)
		m.ObserveAmountOutError()
	})
	assert.Nil(t, m.Registry())
}

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.ObserveDecision("offline")
	m.ObserveDecision("offline")
	m.ObserveQuoteCache(false)
	m.ObserveBatchItem(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("offline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quoteCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchItems.WithLabelValues("failure")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveAmountOutError()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "split_router_amount_out_errors_total 1"))
}
