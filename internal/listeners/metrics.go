package listeners

import (
	"context"
	"time"

	"retriever-agent/internal/common/metrics"
	"retriever-agent/internal/common/observability"
	"retriever-agent/internal/retriever"
)

// Metrics records retrieval events as Prometheus series and, when obs is
// non-nil, as OpenTelemetry instruments.
func Metrics(obs *observability.Observability) retriever.Handler {
	return func(ctx context.Context, evt retriever.Event) error {
		strategy := stringData(evt, retriever.DataStrategy)

		switch evt.Name {
		case retriever.EventToolCallCompleted:
			outcome := "success"
			if code := stringData(evt, retriever.DataErrorCode); code != "" {
				outcome = code
			}
			metrics.StrategyAttempts.WithLabelValues(strategy, outcome).Inc()

		case retriever.EventFallbackActivated:
			from := stringData(evt, retriever.DataFromStrategy)
			to := stringData(evt, retriever.DataToStrategy)
			metrics.FallbackActivations.WithLabelValues(from, to).Inc()
			if obs != nil {
				obs.RecordFallback(ctx, from, to)
			}

		case retriever.EventRetrievalCompleted:
			seconds := floatData(evt, retriever.DataDuration)
			metrics.RetrievalRequests.WithLabelValues(strategy, "success").Inc()
			metrics.RetrievalDuration.WithLabelValues(strategy).Observe(seconds)
			metrics.RetrievalResults.Observe(floatData(evt, retriever.DataResultsCount))
			if obs != nil {
				obs.RecordRetrieval(ctx, strategy, "success", secondsToDuration(seconds))
			}

		case retriever.EventRetrievalError:
			seconds := floatData(evt, retriever.DataDuration)
			metrics.RetrievalRequests.WithLabelValues(strategy, "error").Inc()
			metrics.RetrievalDuration.WithLabelValues(strategy).Observe(seconds)
			if obs != nil {
				obs.RecordRetrieval(ctx, strategy, "error", secondsToDuration(seconds))
			}
		}
		return nil
	}
}

func stringData(evt retriever.Event, key string) string {
	s, _ := evt.Data[key].(string)
	return s
}

func floatData(evt retriever.Event, key string) float64 {
	switch v := evt.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
