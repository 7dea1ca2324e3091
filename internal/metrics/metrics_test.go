package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionGauge(t *testing.T) {
	SubscriptionOpened("metrics_test")
	SubscriptionOpened("metrics_test")
	SubscriptionClosed("metrics_test")

	assert.Equal(t, 1.0, testutil.ToFloat64(feedSubscriptions.WithLabelValues("metrics_test")))
}

func TestHandlerServesRegistry(t *testing.T) {
	StoreFailed("metrics_test", "NETWORK_FAILURE")
	ObserveHTTP(http.MethodGet, "/api/logs", http.StatusOK, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "printfleet_store_errors_total")
	assert.Contains(t, rec.Body.String(), "printfleet_http_requests_total")
}
