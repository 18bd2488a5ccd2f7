// Package metrics exposes Prometheus collectors for the research pipeline and
// instrumented wrappers for the model and search providers.
package metrics

import (
	"context"
	"time"

	"deepresearch/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	stageTransitionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stage_transitions_total",
			Help: "The count of session stage transitions.",
		},
		[]string{"from", "to"},
	)
	queryOutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_queries_total",
			Help: "The count of executed research queries by outcome.",
		},
		[]string{"outcome"},
	)
	sessionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_total",
			Help: "The count of started sessions.",
		},
		[]string{"kind"},
	)
	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_provider_latency_seconds",
			Help:    "The latency of completion and search provider calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider", "operation"},
	)
	providerErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_provider_errors_total",
			Help: "The count of failed provider calls.",
		},
		[]string{"provider", "operation"},
	)
	inFlightQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_queries_in_flight",
			Help: "The number of research queries currently executing.",
		},
	)
	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_active_runs",
			Help: "The number of sessions currently advancing.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		collectors.NewBuildInfoCollector(),
		stageTransitionCounter,
		queryOutcomeCounter,
		sessionCounter,
		providerLatency,
		providerErrorCounter,
		inFlightQueries,
		activeRuns,
	)
}

// Query outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// StageTransition records a session moving between stages.
func StageTransition(from, to string) {
	stageTransitionCounter.WithLabelValues(from, to).Inc()
}

// QueryFinished records a query outcome.
func QueryFinished(outcome string) {
	queryOutcomeCounter.WithLabelValues(outcome).Inc()
}

// SessionStarted records a new session of kind.
func SessionStarted(kind string) {
	sessionCounter.WithLabelValues(kind).Inc()
}

// QueryStarted increments the in-flight gauge; call the returned func when done.
func QueryStarted() func() {
	inFlightQueries.Inc()
	return inFlightQueries.Dec
}

// RunStarted increments the active run gauge; call the returned func when done.
func RunStarted() func() {
	activeRuns.Inc()
	return activeRuns.Dec
}

func observe(provider, operation string, startAt time.Time, err error) {
	providerLatency.WithLabelValues(provider, operation).Observe(time.Since(startAt).Seconds())
	if err != nil {
		providerErrorCounter.WithLabelValues(provider, operation).Inc()
	}
}

type instrumentalCompletion struct {
	name string
	p    types.CompletionProvider
}

// InstrumentCompletion records latency and errors of p under name.
func InstrumentCompletion(name string, p types.CompletionProvider) types.CompletionProvider {
	return instrumentalCompletion{name: name, p: p}
}

func (i instrumentalCompletion) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	const op = "complete"
	startAt := time.Now()
	out, err := i.p.Complete(ctx, req)
	observe(i.name, op, startAt, err)
	return out, err
}

type instrumentalSearch struct {
	p types.SearchProvider
}

// InstrumentSearch records latency and errors of p under its name.
func InstrumentSearch(p types.SearchProvider) types.SearchProvider {
	return instrumentalSearch{p: p}
}

func (i instrumentalSearch) Name() string { return i.p.Name() }

func (i instrumentalSearch) Search(ctx context.Context, query string, maxResults int, scope string) ([]types.SearchResult, error) {
	const op = "search"
	startAt := time.Now()
	out, err := i.p.Search(ctx, query, maxResults, scope)
	observe(i.p.Name(), op, startAt, err)
	return out, err
}

type instrumentalKnowledge struct {
	p types.KnowledgeBaseProvider
}

// InstrumentKnowledge records latency and errors of a knowledge base.
func InstrumentKnowledge(p types.KnowledgeBaseProvider) types.KnowledgeBaseProvider {
	return instrumentalKnowledge{p: p}
}

func (i instrumentalKnowledge) Search(ctx context.Context, query string, maxResults int) ([]types.KnowledgeChunk, error) {
	const op = "search"
	startAt := time.Now()
	out, err := i.p.Search(ctx, query, maxResults)
	observe("knowledge", op, startAt, err)
	return out, err
}
