// Package metrics declares the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_llm_invocations_total",
			Help: "Total number of LLM invocations by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_llm_retries_total",
			Help: "Total number of retried LLM attempts by provider and error kind",
		},
		[]string{"provider", "kind"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aria_llm_invocation_duration_seconds",
			Help:    "Duration of LLM invocations including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	FallbackTier = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_fallback_tier_total",
			Help: "Outcome of each fallback tier attempt",
		},
		[]string{"tier", "outcome"},
	)

	PipelineQuestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_pipeline_questions_total",
			Help: "Questions processed by result source and intent",
		},
		[]string{"source", "intent"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "aria_pipeline_duration_seconds",
			Help: "End-to-end question processing duration",
		},
		[]string{"source"},
	)

	OnDeviceLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aria_ondevice_model_loaded",
			Help: "1 when an on-device model is loaded",
		},
	)
)
