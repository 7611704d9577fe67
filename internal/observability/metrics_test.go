package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetrics_RecordIngest(t *testing.T) {
	m := NewPipelineMetrics()
	m.RecordIngest(200*time.Millisecond, OutcomeIndexed)
	m.RecordIngest(time.Second, OutcomeNoText)
	m.RecordIngest(time.Second, OutcomeIndexed)

	if got := testutil.ToFloat64(m.IngestTotal.WithLabelValues(OutcomeIndexed)); got != 2 {
		t.Errorf("expected 2 indexed, got %v", got)
	}
	if got := testutil.ToFloat64(m.IngestTotal.WithLabelValues(OutcomeNoText)); got != 1 {
		t.Errorf("expected 1 no_text, got %v", got)
	}
}

func TestPipelineMetrics_CallbackAndSearch(t *testing.T) {
	m := NewPipelineMetrics()
	m.RecordCallback(nil)
	m.RecordCallback(errors.New("connection refused"))
	m.RecordCallback(errors.New("503"))
	m.RecordSearch("query", 5*time.Millisecond, 3)

	if got := testutil.ToFloat64(m.CallbackTotal.WithLabelValues("error")); got != 2 {
		t.Errorf("expected 2 callback errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.SearchTotal.WithLabelValues("query")); got != 1 {
		t.Errorf("expected 1 search, got %v", got)
	}
}

func TestPipelineMetrics_Handler(t *testing.T) {
	m := NewPipelineMetrics()
	m.IndexSize.Set(42)
	m.ObserveStage(StageEmbed, time.Now().Add(-time.Second))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"docintel_index_size 42",
		`docintel_stage_duration_seconds_count{stage="embed"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_Singleton(t *testing.T) {
	if Metrics() != Metrics() {
		t.Error("Metrics should return the same instance")
	}
}
