// Package observe provides the observability primitives of intervox:
// OpenTelemetry metrics and tracing, trace-aware structured logging, and the
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [InitProvider]. [DefaultMetrics] returns a
// package-level instance bound to the global meter provider; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/intervox"

// Response outcomes recorded on [Metrics.Responses].
const (
	OutcomeEvaluated     = "evaluated"
	OutcomeFallback      = "fallback"
	OutcomeChoiceCorrect = "choice_correct"
	OutcomeChoiceWrong   = "choice_wrong"
	OutcomeChoiceNeutral = "choice_neutral"
	OutcomeTimeout       = "timeout"
)

// Metrics holds the OpenTelemetry instruments of the service. The instruments
// are safe for concurrent use.
type Metrics struct {
	// EvaluationDuration is the latency of answer evaluation calls.
	EvaluationDuration metric.Float64Histogram

	// NarrationDuration is the time from a narration request to the end of
	// playback, synthesis included.
	NarrationDuration metric.Float64Histogram

	// Responses counts recorded answers by attribute "outcome".
	Responses metric.Int64Counter

	// Timeouts counts questions whose deadline expired.
	Timeouts metric.Int64Counter

	// ActiveInterviews is the number of interviews in the active state.
	ActiveInterviews metric.Int64UpDownCounter

	// ProviderRequests counts provider calls by "provider", "kind" and "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider calls by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// CaptureRestarts counts speech engine restarts by "reason".
	CaptureRestarts metric.Int64Counter

	// HTTPRequestDuration is HTTP handling latency by "method", "route" and
	// "status".
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EvaluationDuration, err = m.Float64Histogram("intervox.evaluation.duration",
		metric.WithDescription("Latency of answer evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NarrationDuration, err = m.Float64Histogram("intervox.narration.duration",
		metric.WithDescription("Time from a narration request to the end of playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Responses, err = m.Int64Counter("intervox.responses",
		metric.WithDescription("Recorded answers by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Timeouts, err = m.Int64Counter("intervox.timeouts",
		metric.WithDescription("Questions whose deadline expired before an answer was submitted."),
	); err != nil {
		return nil, err
	}
	if met.ActiveInterviews, err = m.Int64UpDownCounter("intervox.interviews.active",
		metric.WithDescription("Interviews currently in the active state."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("intervox.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("intervox.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRestarts, err = m.Int64Counter("intervox.capture.restarts",
		metric.WithDescription("Speech recognition engine restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("intervox.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] bound to
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderCall records one provider call, and an error when err is
// non-nil. It is the Observe hook of the resilience fallback groups.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordResponse counts an answer by outcome.
func (m *Metrics) RecordResponse(ctx context.Context, outcome string) {
	m.Responses.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if outcome == OutcomeTimeout {
		m.Timeouts.Add(ctx, 1)
	}
}

// RecordEvaluation records one evaluation latency.
func (m *Metrics) RecordEvaluation(ctx context.Context, d time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.EvaluationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordNarration records one narration.
func (m *Metrics) RecordNarration(ctx context.Context, d time.Duration, cached bool) {
	m.NarrationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("cached", cached)))
}

// RecordCaptureRestart counts a speech engine restart.
func (m *Metrics) RecordCaptureRestart(ctx context.Context, reason string) {
	m.CaptureRestarts.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}
