// Package metrics holds the OpenTelemetry instruments recorded by the
// preprocessing pipeline.
//
// Tests should build a Metrics from their own metric.MeterProvider so
// instruments are not shared across tests.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/example/go-piper-preprocess"

// Metrics is safe for concurrent use.
type Metrics struct {
	// Utterances counts finished utterances by attribute "status".
	Utterances metric.Int64Counter

	// Failures counts failed utterances by attribute "kind".
	Failures metric.Int64Counter

	// MissingPhonemes counts phoneme symbols absent from the id map.
	MissingPhonemes metric.Int64Counter

	// CacheBuilds counts rebuilt artifacts by attribute "artifact"
	// (norm or spec).
	CacheBuilds metric.Int64Counter

	// UtteranceDuration tracks per-utterance processing latency.
	UtteranceDuration metric.Float64Histogram

	// ActiveWorkers tracks the number of running workers.
	ActiveWorkers metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// New creates every instrument from mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Utterances, err = m.Int64Counter("piperprep.utterances",
		metric.WithDescription("Finished utterances by status."),
	); err != nil {
		return nil, err
	}
	if met.Failures, err = m.Int64Counter("piperprep.failures",
		metric.WithDescription("Failed utterances by error kind."),
	); err != nil {
		return nil, err
	}
	if met.MissingPhonemes, err = m.Int64Counter("piperprep.missing_phonemes",
		metric.WithDescription("Phoneme symbols without an id."),
	); err != nil {
		return nil, err
	}
	if met.CacheBuilds, err = m.Int64Counter("piperprep.cache.builds",
		metric.WithDescription("Cache artifacts rebuilt by artifact type."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("piperprep.utterance.duration",
		metric.WithDescription("Latency of processing one utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("piperprep.active_workers",
		metric.WithDescription("Number of running workers."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns a process-wide Metrics built from otel.GetMeterProvider.
// Without a configured provider every instrument is a no-op.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Finished records one utterance outcome.
func (m *Metrics) Finished(ctx context.Context, status, kind string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if kind != "" {
		m.Failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	m.UtteranceDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

// Missing records n phoneme occurrences without an id.
func (m *Metrics) Missing(ctx context.Context, n int) {
	if n > 0 {
		m.MissingPhonemes.Add(ctx, int64(n))
	}
}

// Built records a rebuilt cache artifact.
func (m *Metrics) Built(ctx context.Context, artifact string) {
	m.CacheBuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("artifact", artifact)))
}
