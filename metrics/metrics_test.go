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

func TestRecordCheckInBucketsUnknownStatus(t *testing.T) {
	before := testutil.ToFloat64(checkIns.WithLabelValues("other", OutcomeInvalid))
	RecordCheckIn("pending", OutcomeInvalid)
	assert.Equal(t, before+1, testutil.ToFloat64(checkIns.WithLabelValues("other", OutcomeInvalid)))

	before = testutil.ToFloat64(checkIns.WithLabelValues("completed", OutcomeRecorded))
	RecordCheckIn("completed", OutcomeRecorded)
	assert.Equal(t, before+1, testutil.ToFloat64(checkIns.WithLabelValues("completed", OutcomeRecorded)))
}

func TestObserveRequestAndHandler(t *testing.T) {
	done := RequestStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(httpInFlight))
	done()
	assert.Equal(t, float64(0), testutil.ToFloat64(httpInFlight))

	ObserveRequest("get", "/api/v1/habits/:id", http.StatusOK, 20*time.Millisecond)
	ObserveRequest("GET", "", http.StatusNotFound, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/habits/:id", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404")))

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "habits_http_requests_total"))
}
