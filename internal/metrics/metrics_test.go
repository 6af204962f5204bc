package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFetchAndCheck(t *testing.T) {
	m := New()

	m.RecordFetch("EUR/USD", 120*time.Millisecond, nil)
	m.RecordFetch("EUR/USD", 80*time.Millisecond, errors.New("timeout"))
	m.RecordFetch("EUR/USD", 80*time.Millisecond, nil)

	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("EUR/USD", ResultOK)); got != 2 {
		t.Fatalf("ok fetches = %v", got)
	}
	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("EUR/USD", ResultError)); got != 1 {
		t.Fatalf("error fetches = %v", got)
	}

	m.RecordCheck("EUR/USD", 1.09, 1.08, true)
	m.RecordCheck("EUR/USD", 1.07, 1.09, false)
	if got := testutil.ToFloat64(m.LatestRate.WithLabelValues("EUR/USD")); got != 1.07 {
		t.Fatalf("latest rate = %v", got)
	}
	if got := testutil.ToFloat64(m.NewHighsTotal.WithLabelValues("EUR/USD")); got != 1 {
		t.Fatalf("new highs = %v", got)
	}
}

func TestRecordCleanupIgnoresZero(t *testing.T) {
	m := New()
	m.RecordCleanup("EUR/USD", 0)
	m.RecordCleanup("EUR/USD", 12)
	if got := testutil.ToFloat64(m.CleanupDeletedTotal.WithLabelValues("EUR/USD")); got != 12 {
		t.Fatalf("deleted = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordFetch("x", time.Second, nil)
	m.RecordCheck("x", 1, 1, true)
	m.RecordNotifyFailure("x")
	m.RecordCleanup("x", 3)
	m.RecordHTTP("/", 200)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordHTTP("/history", 429)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `fxwatcher_http_requests_total{code="429",route="/history"} 1`) {
		t.Fatalf("missing http counter in exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("go collector should be registered")
	}
}
