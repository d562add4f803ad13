package metrics

import (
	"net/http"

	"family-meal-planner/internal/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meal_planner"

// Generation outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// EngineMetrics are the Prometheus counters of the engine. Each instance owns
// its registry so tests and multiple engines do not collide.
type EngineMetrics struct {
	registry *prometheus.Registry

	Generations      *prometheus.CounterVec
	Tokens           *prometheus.CounterVec
	GenerationTime   *prometheus.HistogramVec
	ShoppingLists    prometheus.Counter
	MealTransitions  *prometheus.CounterVec
	BudgetOverspends prometheus.Counter
}

// NewEngineMetrics registers the engine collectors together with the Go
// runtime and process collectors.
func NewEngineMetrics() *EngineMetrics {
	m := &EngineMetrics{
		registry: prometheus.NewRegistry(),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generator calls by agent and outcome.",
		}, []string{"agent", "outcome"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by agent and kind.",
		}, []string{"agent", "kind"}),
		GenerationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of generator calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"agent"}),
		ShoppingLists: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shopping_lists_generated_total",
			Help:      "Shopping lists derived from meal plans.",
		}),
		MealTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meal_status_transitions_total",
			Help:      "Meal status changes by target status.",
		}, []string{"status"}),
		BudgetOverspends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_overspent_total",
			Help:      "Purchases that left a household over its weekly budget.",
		}),
	}

	m.registry.MustRegister(
		m.Generations,
		m.Tokens,
		m.GenerationTime,
		m.ShoppingLists,
		m.MealTransitions,
		m.BudgetOverspends,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveGeneration counts one generator call. Calls that failed before the
// model answered carry no latency and are only counted.
func (m *EngineMetrics) ObserveGeneration(meta shared.AgentMeta, outcome string) {
	m.Generations.WithLabelValues(meta.AgentName, outcome).Inc()
	if meta.Latency > 0 {
		m.GenerationTime.WithLabelValues(meta.AgentName).Observe(meta.Latency.Seconds())
	}
	if meta.Usage.PromptTokens > 0 {
		m.Tokens.WithLabelValues(meta.AgentName, "prompt").Add(float64(meta.Usage.PromptTokens))
	}
	if meta.Usage.CompletionTokens > 0 {
		m.Tokens.WithLabelValues(meta.AgentName, "completion").Add(float64(meta.Usage.CompletionTokens))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
