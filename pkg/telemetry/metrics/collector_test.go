package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("anthropic", "claude", "success", 300*time.Millisecond)
	c.RecordRequest("anthropic", "claude", "success", 200*time.Millisecond)
	c.RecordRequest("anthropic", "claude", "error", 100*time.Millisecond)

	want := `
		# HELP charon_requests_total Completed requests by service, model family and outcome.
		# TYPE charon_requests_total counter
		charon_requests_total{family="claude",outcome="error",service="anthropic"} 1
		charon_requests_total{family="claude",outcome="success",service="anthropic"} 2
	`
	if err := testutil.CollectAndCompare(c.requestsTotal, strings.NewReader(want)); err != nil {
		t.Error(err)
	}
}

func TestCollector_Tokens(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.AddTokens("gpt4o", 100, 25)
	if got := testutil.ToFloat64(c.tokensTotal.WithLabelValues("gpt4o", "input")); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(c.tokensTotal.WithLabelValues("gpt4o", "output")); got != 25 {
		t.Errorf("output tokens = %v, want 25", got)
	}
}

func TestCollector_KeyState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetKeyState("openai", "active", 3)
	c.SetKeyState("openai", "revoked", 1)
	if got := testutil.ToFloat64(c.keys.WithLabelValues("openai", "active")); got != 3 {
		t.Errorf("active keys = %v, want 3", got)
	}
}
