package observability_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"staybook/internal/adapters/observability"
)

func TestMetricsRegistryAndHandler(t *testing.T) {
	reg := observability.InitRegistry()

	// record one sample per family so they show up in the exposition
	observability.ObserveHTTP("/test", "GET", 200, 12*time.Millisecond)
	observability.ObserveJob("expire_unpaid_bookings", nil, 40*time.Millisecond)
	observability.ObserveJobItems("expire_unpaid_bookings", "expired", 2)
	observability.ObserveLedger("release_escrow", errors.New("boom"))

	mh := observability.MetricsHandler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mh.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	out := string(body)
	for _, name := range []string{
		"staybook_http_requests_total",
		"staybook_job_runs_total",
		"staybook_job_items_total",
		"staybook_ledger_transitions_total",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output", name)
		}
	}
}

func TestCronLoggerWritesStructuredErrors(t *testing.T) {
	var buf bytes.Buffer
	cl := observability.CronLogger{L: zerolog.New(&buf)}

	cl.Error(errors.New("tick failed"), "job panicked", "job", "send_evidence_reminders")

	out := buf.String()
	if !strings.Contains(out, `"job":"send_evidence_reminders"`) || !strings.Contains(out, "tick failed") {
		t.Fatalf("unexpected log line: %s", out)
	}
}
