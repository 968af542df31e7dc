package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Generation("section", "ok")
	m.Generation("section", "ok")
	m.Generation("remake", "transient")
	m.GeneratorAttempt()
	m.ExamCompleted("GRADE_5", "mock", true)
	m.Sync("failed")

	if got := testutil.ToFloat64(m.generations.WithLabelValues("section", "ok")); got != 2 {
		t.Errorf("section ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.attempts); got != 1 {
		t.Errorf("attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.exams.WithLabelValues("GRADE_5", "mock", "true")); got != 1 {
		t.Errorf("exams = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Generation("section", "ok")
	m.GeneratorAttempt()
	m.ExamCompleted("GRADE_4", "target", false)
	m.Sync("ok")
	m.Purchase("subscribe", "ok")
}

func TestHandler(t *testing.T) {
	m := New()
	m.Purchase("buy_credits", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `eikenprep_purchases_total{action="buy_credits",outcome="ok"} 1`) {
		t.Errorf("purchase counter missing from exposition:\n%s", body)
	}
}
