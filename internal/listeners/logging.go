// Package listeners holds event handlers that can be attached to a
// Retriever with On.
package listeners

import (
	"context"

	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/retriever"
)

// Logging writes every event to log. Errors log at error level, fallbacks
// at warn, the rest at debug except the final completion.
func Logging(log logger.Logger) retriever.Handler {
	return func(ctx context.Context, evt retriever.Event) error {
		fields := map[string]interface{}{
			"event":     evt.Name,
			"agent":     evt.AgentName,
			"requestId": evt.RequestID,
		}
		if evt.SessionID != "" {
			fields["sessionId"] = evt.SessionID
		}
		for k, v := range evt.Data {
			fields[k] = v
		}

		switch evt.Name {
		case retriever.EventRetrievalError:
			log.Error("retrieval event", fields)
		case retriever.EventFallbackActivated:
			log.Warn("retrieval event", fields)
		case retriever.EventRetrievalCompleted:
			log.Info("retrieval event", fields)
		default:
			log.Debug("retrieval event", fields)
		}
		return nil
	}
}
