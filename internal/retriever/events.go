package retriever

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"retriever-agent/internal/common/logger"
)

// Event names emitted during a search.
const (
	EventRetrievalStarted   = "RetrievalStarted"
	EventStrategyDecided    = "RetrievalStrategyCompleted"
	EventFallbackActivated  = "FallbackStrategyActivated"
	EventToolCallCompleted  = "ToolCallCompleted"
	EventRetrievalCompleted = "RetrievalCompleted"
	EventRetrievalError     = "RetrievalError"

	// AllEvents subscribes a handler to every event.
	AllEvents = "*"
)

// Keys used in event data payloads.
const (
	DataQuery          = "query"
	DataRewrittenQuery = "rewritten_query"
	DataStrategy       = "strategy"
	DataDataSource     = "data_source"
	DataFallbacks      = "fallbacks"
	DataFromStrategy   = "from_strategy"
	DataToStrategy     = "to_strategy"
	DataReason         = "reason"
	DataResultsCount   = "results_count"
	DataRawCount       = "raw_count"
	DataDurationMs     = "duration_ms"
	DataDuration       = "duration_seconds"
	DataFallbackUsed   = "fallback_used"
	DataErrorCode      = "error_code"
	DataErrorMessage   = "error_message"
	DataCallerAgent    = "caller_agent"
	DataAttempts       = "attempts"
)

// Event is the payload delivered to handlers.
type Event struct {
	Name      string                 `json:"event"`
	AgentName string                 `json:"agent_name"`
	RequestID string                 `json:"request_id"`
	SessionID string                 `json:"session_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Handler receives events. A returned error is logged and otherwise ignored.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Emitter delivers events synchronously, in registration order, to the
// handlers subscribed to the event name or to AllEvents.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   logger.Logger
}

func NewEmitter(log logger.Logger) *Emitter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Emitter{
		handlers: make(map[string][]subscription),
		logger:   log,
	}
}

// On registers h for the named event and returns a function that removes it.
func (e *Emitter) On(name string, h Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers[name] = append(e.handlers[name], subscription{id: id, handler: h})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(name, id) })
	}
}

func (e *Emitter) off(name string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.handlers[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		kept := make([]subscription, 0, len(subs)-1)
		kept = append(kept, subs[:i]...)
		kept = append(kept, subs[i+1:]...)
		if len(kept) == 0 {
			delete(e.handlers, name)
		} else {
			e.handlers[name] = kept
		}
		return
	}
}

// HandlerCount reports how many handlers would receive the named event.
func (e *Emitter) HandlerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.handlers[name])
	if name != AllEvents {
		n += len(e.handlers[AllEvents])
	}
	return n
}

// Emit delivers evt. Handler errors and panics never reach the caller, and
// each handler gets its own copy of the data map.
func (e *Emitter) Emit(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Data == nil {
		evt.Data = map[string]interface{}{}
	}

	data := evt.Data
	for _, sub := range e.snapshot(evt.Name) {
		evt.Data = maps.Clone(data)
		if err := e.deliver(ctx, sub.handler, evt); err != nil {
			e.logger.Warn("Event handler failed", map[string]interface{}{
				"event":     evt.Name,
				"requestId": evt.RequestID,
				"error":     err.Error(),
			})
		}
	}
}

func (e *Emitter) snapshot(name string) []subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()

	subs := make([]subscription, 0, len(e.handlers[name])+len(e.handlers[AllEvents]))
	subs = append(subs, e.handlers[name]...)
	if name != AllEvents {
		subs = append(subs, e.handlers[AllEvents]...)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func (e *Emitter) deliver(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}
