package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"family-meal-planner/internal/shared"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveGeneration(t *testing.T) {
	m := NewEngineMetrics()

	m.ObserveGeneration(shared.AgentMeta{
		AgentName: "WeekGenerator",
		Usage:     shared.TokenUsage{PromptTokens: 120, CompletionTokens: 30},
		Latency:   2 * time.Second,
	}, OutcomeAccepted)
	m.ObserveGeneration(shared.AgentMeta{AgentName: "WeekGenerator"}, OutcomeFailed)

	if got := testutil.ToFloat64(m.Generations.WithLabelValues("WeekGenerator", OutcomeAccepted)); got != 1 {
		t.Errorf("accepted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Generations.WithLabelValues("WeekGenerator", OutcomeFailed)); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Tokens.WithLabelValues("WeekGenerator", "prompt")); got != 120 {
		t.Errorf("prompt tokens = %v, want 120", got)
	}
	if got := testutil.CollectAndCount(m.GenerationTime); got != 1 {
		t.Errorf("expected one latency series, got %d", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewEngineMetrics()
	m.ShoppingLists.Inc()
	m.MealTransitions.WithLabelValues("completed").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"meal_planner_shopping_lists_generated_total 1",
		`meal_planner_meal_status_transitions_total{status="completed"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition is missing %q", want)
		}
	}
}
