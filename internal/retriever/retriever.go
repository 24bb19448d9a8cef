package retriever

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
)

const defaultAgentName = "retriever"

// Options configures a Retriever.
type Options struct {
	Name          string
	DisableEvents bool
	Selector      SelectorConfig
	Timeouts      Timeouts
}

// Retriever answers search calls: it picks a strategy, walks the fallback
// chain and reports progress through its event emitter.
type Retriever struct {
	name          string
	selector      *Selector
	dispatcher    *Dispatcher
	emitter       *Emitter
	eventsEnabled bool
	logger        logger.Logger

	now   func() time.Time
	newID func() string
}

func New(backends Backends, opts Options, log logger.Logger) *Retriever {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	name := opts.Name
	if name == "" {
		name = defaultAgentName
	}

	selector := NewSelector(opts.Selector)
	return &Retriever{
		name:          name,
		selector:      selector,
		dispatcher:    NewDispatcher(backends, selector, opts.Timeouts, log.Named("dispatcher")),
		emitter:       NewEmitter(log.Named("events")),
		eventsEnabled: !opts.DisableEvents,
		logger:        log,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// Name is the agent name stamped on emitted events.
func (r *Retriever) Name() string {
	return r.name
}

// On registers an event handler; "*" receives every event.
func (r *Retriever) On(event string, h Handler) func() {
	return r.emitter.On(event, h)
}

// Plan exposes the selector's decision without running a search.
func (r *Retriever) Plan(query string, sc *SearchContext) Plan {
	return r.selector.Plan(query, sc)
}

// Search runs one retrieval. It never returns a Go error; failures are
// described by the envelope's Error field.
func (r *Retriever) Search(ctx context.Context, query string, sc *SearchContext, sessionID, userID string) *Response {
	start := r.now()
	requestID := r.newID()

	resp := &Response{
		Results: []Item{},
		Metadata: Metadata{
			RequestID: requestID,
			SessionID: sessionID,
			UserID:    userID,
			Query:     query,
			Timestamp: start,
		},
	}

	emit := func(name string, data map[string]interface{}) {
		if !r.eventsEnabled {
			return
		}
		r.emitter.Emit(ctx, Event{
			Name:      name,
			AgentName: r.name,
			RequestID: requestID,
			SessionID: sessionID,
			UserID:    userID,
			Timestamp: r.now(),
			Data:      data,
		})
	}

	startData := map[string]interface{}{DataQuery: query}
	if sc != nil && sc.CallerAgent != "" {
		startData[DataCallerAgent] = sc.CallerAgent
	}
	emit(EventRetrievalStarted, startData)

	log := r.logger.WithFields(map[string]interface{}{
		"requestId": requestID,
		"sessionId": sessionID,
	})

	if strings.TrimSpace(query) == "" {
		return r.fail(resp, start, errors.NewInvalidQueryError("query is blank"), emit, log)
	}

	plan := r.selector.Plan(query, sc)
	resp.Metadata.RewrittenQuery = plan.Query
	resp.Metadata.PrimaryStrategy = plan.Strategy

	fallbacks := make([]string, len(plan.Fallbacks))
	for i, f := range plan.Fallbacks {
		fallbacks[i] = string(f)
	}
	emit(EventStrategyDecided, map[string]interface{}{
		DataQuery:          plan.OriginalQuery,
		DataRewrittenQuery: plan.Query,
		DataStrategy:       string(plan.Strategy),
		DataDataSource:     plan.DataSource,
		DataFallbacks:      fallbacks,
	})

	log.Debug("Retrieval plan ready", map[string]interface{}{
		"strategy":   string(plan.Strategy),
		"dataSource": plan.DataSource,
		"query":      plan.Query,
		"fallbacks":  fallbacks,
	})

	out := r.dispatcher.Dispatch(ctx, plan, sc, emit)
	resp.Metadata.Attempts = out.Attempts
	resp.Metadata.FallbackUsed = len(out.Attempts) > 1

	if out.Err != nil {
		return r.fail(resp, start, out.Err, emit, log)
	}

	resp.Success = true
	resp.Results = out.Items
	resp.Metadata.StrategyUsed = out.Strategy
	resp.Metadata.DataSource = out.DataSource
	resp.Metadata.TotalResults = len(out.Items)
	resp.Metadata.DurationSeconds = r.now().Sub(start).Seconds()

	emit(EventRetrievalCompleted, map[string]interface{}{
		DataStrategy:     string(out.Strategy),
		DataDataSource:   out.DataSource,
		DataResultsCount: len(out.Items),
		DataFallbackUsed: resp.Metadata.FallbackUsed,
		DataAttempts:     len(out.Attempts),
		DataDuration:     resp.Metadata.DurationSeconds,
	})

	log.Info("Retrieval completed", map[string]interface{}{
		"strategy":     string(out.Strategy),
		"results":      len(out.Items),
		"fallbackUsed": resp.Metadata.FallbackUsed,
		"durationSec":  resp.Metadata.DurationSeconds,
	})
	return resp
}

func (r *Retriever) fail(resp *Response, start time.Time, stdErr *errors.StandardError, emit notifyFunc, log logger.Logger) *Response {
	resp.Success = false
	resp.Results = []Item{}
	resp.Metadata.TotalResults = 0
	resp.Metadata.DurationSeconds = r.now().Sub(start).Seconds()
	resp.Error = &ErrorInfo{
		Code:    string(stdErr.Code),
		Message: stdErr.Message,
	}

	emit(EventRetrievalError, map[string]interface{}{
		DataErrorCode:    string(stdErr.Code),
		DataErrorMessage: stdErr.Message,
		DataStrategy:     string(resp.Metadata.PrimaryStrategy),
		DataAttempts:     len(resp.Metadata.Attempts),
		DataFallbackUsed: resp.Metadata.FallbackUsed,
		DataDuration:     resp.Metadata.DurationSeconds,
	})

	log.Error("Retrieval failed", map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"error":     stdErr.Message,
		"details":   stdErr.Details,
		"attempts":  len(resp.Metadata.Attempts),
	})
	return resp
}
