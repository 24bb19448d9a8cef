package listeners

import (
	"context"
	"fmt"
	"sync"
	"time"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/retriever"
)

// AlertPublisher is satisfied by aws.SNSClient.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, topicARN, subject, message string, attrs map[string]string) (string, error)
}

type AlertConfig struct {
	TopicARN string
	// FallbackThreshold alerts once this many fallbacks land inside Window.
	FallbackThreshold int
	Window            time.Duration
}

// Alerter raises an alert for every RetrievalError and for bursts of
// fallback activations.
type Alerter struct {
	publisher AlertPublisher
	config    AlertConfig
	logger    logger.Logger

	mu        sync.Mutex
	fallbacks []time.Time
	now       func() time.Time
}

func NewAlerter(publisher AlertPublisher, cfg AlertConfig, log logger.Logger) *Alerter {
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Alerter{
		publisher: publisher,
		config:    cfg,
		logger:    log,
		now:       time.Now,
	}
}

func (a *Alerter) Handle(ctx context.Context, evt retriever.Event) error {
	switch evt.Name {
	case retriever.EventRetrievalError:
		code := stringData(evt, retriever.DataErrorCode)
		msg := fmt.Sprintf("Retrieval %s failed with %s: %s",
			evt.RequestID, code, stringData(evt, retriever.DataErrorMessage))
		return a.publish(ctx, "Retrieval failed", msg, map[string]string{
			"event":      evt.Name,
			"agent":      evt.AgentName,
			"error_code": code,
		})

	case retriever.EventFallbackActivated:
		if n, fire := a.recordFallback(); fire {
			msg := fmt.Sprintf("%d fallback activations within %s (latest %s -> %s)",
				n, a.config.Window,
				stringData(evt, retriever.DataFromStrategy),
				stringData(evt, retriever.DataToStrategy))
			return a.publish(ctx, "Retrieval fallback rate high", msg, map[string]string{
				"event": evt.Name,
				"agent": evt.AgentName,
			})
		}
	}
	return nil
}

// recordFallback adds one activation and reports whether the threshold was
// reached. The window restarts after an alert.
func (a *Alerter) recordFallback() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	cutoff := now.Add(-a.config.Window)
	kept := a.fallbacks[:0]
	for _, ts := range a.fallbacks {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	a.fallbacks = append(kept, now)

	n := len(a.fallbacks)
	if n < a.config.FallbackThreshold {
		return n, false
	}
	a.fallbacks = a.fallbacks[:0]
	return n, true
}

func (a *Alerter) publish(ctx context.Context, subject, msg string, attrs map[string]string) error {
	ctx, cancel := detach(ctx)
	defer cancel()
	id, err := a.publisher.PublishAlert(ctx, a.config.TopicARN, subject, msg, attrs)
	if err != nil {
		return errors.NewEventPublishFailedError("sns", err)
	}
	a.logger.Info("alert published", map[string]interface{}{
		"subject":   subject,
		"messageId": id,
	})
	return nil
}
