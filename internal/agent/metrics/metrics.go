// Package metrics holds the Prometheus collectors of the assistant.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chative"

var (
	RoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Routing decisions by destination",
		},
		[]string{"route", "reason"}, // reason: classified, ambiguous, router_error
	)

	LoopIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Reformulation rounds per search loop invocation",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"subsystem"},
	)

	LoopExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_exhausted_total",
			Help:      "Search loops that ended without an approved result",
		},
		[]string{"subsystem", "reason"},
	)

	GraderVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grader_verdicts_total",
			Help:      "Relevance verdicts by candidate kind",
		},
		[]string{"kind", "verdict"}, // verdict: relevant, irrelevant, degraded
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"node", "model", "status"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"node", "model"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	SummarizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizations_total",
			Help:      "History summarization attempts",
		},
		[]string{"status"},
	)

	SessionResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resets_total",
			Help:      "Sessions restarted because stored state could not be decoded",
		},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end duration of a conversation turn",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"route"},
	)

	ActiveTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_turns",
			Help:      "Turns currently in flight",
		},
	)
)
