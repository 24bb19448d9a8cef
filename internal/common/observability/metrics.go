package observability

import (
	"context"
	"log"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider     *metric.MeterProvider
	meter             otelmetric.Meter
	retrievalCounter  otelmetric.Int64Counter
	retrievalDuration otelmetric.Float64Histogram
	fallbackCounter   otelmetric.Int64Counter
	jobCounter        otelmetric.Int64Counter
	jobDuration       otelmetric.Float64Histogram
}

// New installs a global meter provider backed by the Prometheus exporter.
// A nil registerer uses the default Prometheus registry.
func New(serviceName string, reg promclient.Registerer) *Observability {
	opts := []prometheus.Option{}
	if reg != nil {
		opts = append(opts, prometheus.WithRegisterer(reg))
	}

	exporter, err := prometheus.New(opts...)
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	retrievalCounter, _ := meter.Int64Counter(
		"retrieval.requests",
		otelmetric.WithDescription("Number of retrieval requests"),
	)

	retrievalDuration, _ := meter.Float64Histogram(
		"retrieval.duration",
		otelmetric.WithDescription("Retrieval request duration"),
		otelmetric.WithUnit("ms"),
	)

	fallbackCounter, _ := meter.Int64Counter(
		"retrieval.fallbacks",
		otelmetric.WithDescription("Number of fallback strategy activations"),
	)

	jobCounter, _ := meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)

	jobDuration, _ := meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:     provider,
		meter:             meter,
		retrievalCounter:  retrievalCounter,
		retrievalDuration: retrievalDuration,
		fallbackCounter:   fallbackCounter,
		jobCounter:        jobCounter,
		jobDuration:       jobDuration,
	}
}

func (o *Observability) RecordRetrieval(ctx context.Context, strategy, status string, duration time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("status", status),
	)
	if o.retrievalCounter != nil {
		o.retrievalCounter.Add(ctx, 1, attrs)
	}
	if o.retrievalDuration != nil {
		o.retrievalDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordFallback(ctx context.Context, from, to string) {
	if o.fallbackCounter != nil {
		o.fallbackCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
}

func (o *Observability) RecordJobProcessed(ctx context.Context, status string) {
	if o.jobCounter != nil {
		o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
