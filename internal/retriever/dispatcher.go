package retriever

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
)

const tracerName = "retriever-agent/internal/retriever"

// Timeouts bounds each backend call. Hybrid shares Vector. Zero means no
// deadline beyond the caller's context.
type Timeouts struct {
	Vector  time.Duration
	Keyword time.Duration
	Web     time.Duration
}

func (t Timeouts) For(s Strategy) time.Duration {
	switch s {
	case StrategyVector, StrategyHybrid:
		return t.Vector
	case StrategyKeyword:
		return t.Keyword
	case StrategyWeb:
		return t.Web
	}
	return 0
}

// notifyFunc forwards dispatcher progress to the event emitter.
type notifyFunc func(name string, data map[string]interface{})

// Outcome is the result of walking a plan's fallback chain.
type Outcome struct {
	Strategy   Strategy
	DataSource string
	Items      []Item
	Attempts   []Attempt
	Err        *errors.StandardError
}

// Dispatcher runs a plan against the backends, moving down the fallback
// chain until one strategy yields results.
type Dispatcher struct {
	backends Backends
	selector *Selector
	timeouts Timeouts
	tracer   trace.Tracer
	logger   logger.Logger
}

func NewDispatcher(backends Backends, selector *Selector, timeouts Timeouts, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Dispatcher{
		backends: backends,
		selector: selector,
		timeouts: timeouts,
		tracer:   otel.Tracer(tracerName),
		logger:   log,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, plan Plan, sc *SearchContext, notify notifyFunc) Outcome {
	if notify == nil {
		notify = func(string, map[string]interface{}) {}
	}

	chain := append([]Strategy{plan.Strategy}, plan.Fallbacks...)
	out := Outcome{Attempts: make([]Attempt, 0, len(chain))}
	var lastErr error

	for i, strategy := range chain {
		if err := ctx.Err(); err != nil {
			out.Err = errors.NewRetrievalCancelledError(err)
			return out
		}

		if i > 0 {
			d.logger.Warn("Falling back to next strategy", map[string]interface{}{
				"from":   string(chain[i-1]),
				"to":     string(strategy),
				"reason": string(errors.CodeOf(lastErr)),
			})
			notify(EventFallbackActivated, map[string]interface{}{
				DataFromStrategy: string(chain[i-1]),
				DataToStrategy:   string(strategy),
				DataDataSource:   strategy.DataSource(),
				DataReason:       string(errors.CodeOf(lastErr)),
				DataErrorMessage: lastErr.Error(),
			})
		}

		req := d.selector.request(plan, strategy, sc)
		items, rawCount, attempt, err := d.attempt(ctx, req)
		out.Attempts = append(out.Attempts, attempt)

		data := map[string]interface{}{
			DataStrategy:     string(strategy),
			DataDataSource:   attempt.DataSource,
			DataResultsCount: len(items),
			DataRawCount:     rawCount,
			DataDurationMs:   attempt.DurationMs,
		}
		if err != nil {
			data[DataErrorCode] = attempt.ErrorCode
			data[DataErrorMessage] = attempt.Error
		}
		notify(EventToolCallCompleted, data)

		if err == nil {
			out.Strategy = strategy
			out.DataSource = attempt.DataSource
			out.Items = items
			return out
		}
		lastErr = err
	}

	if err := ctx.Err(); err != nil {
		out.Err = errors.NewRetrievalCancelledError(err)
		return out
	}
	out.Err = errors.NewRetrievalFailedError(lastErr)
	return out
}

// attempt makes one backend call and normalizes its documents. An empty
// normalized set counts as a failure so the chain moves on.
func (d *Dispatcher) attempt(ctx context.Context, req Request) ([]Item, int, Attempt, error) {
	source := req.Strategy.DataSource()
	ctx, span := d.tracer.Start(ctx, "retriever.search."+string(req.Strategy),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("retriever.strategy", string(req.Strategy)),
			attribute.String("retriever.data_source", source),
			attribute.Int("retriever.limit", req.Parameters.Limit),
		))
	defer span.End()

	start := time.Now()
	var (
		docs  []Document
		items []Item
		err   error
	)

	backend := d.backends.For(req.Strategy)
	if backend == nil {
		err = errors.NewBackendUnavailableError(string(req.Strategy))
	} else {
		docs, err = d.call(ctx, backend, req)
	}
	if err == nil {
		items = PostProcess(Normalize(source, docs), req.Parameters)
		if len(items) == 0 {
			err = errors.NewEmptyResultError(string(req.Strategy))
		}
	}

	attempt := Attempt{
		Strategy:   req.Strategy,
		DataSource: source,
		Results:    len(items),
		DurationMs: time.Since(start).Milliseconds(),
	}
	span.SetAttributes(
		attribute.Int("retriever.raw_results", len(docs)),
		attribute.Int("retriever.results", len(items)),
	)
	if err != nil {
		attempt.ErrorCode = string(errors.CodeOf(err))
		attempt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, attempt.ErrorCode)
	}
	return items, len(docs), attempt, err
}

func (d *Dispatcher) call(ctx context.Context, backend Backend, req Request) ([]Document, error) {
	timeout := d.timeouts.For(req.Strategy)
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	docs, err := d.search(callCtx, backend, req)
	if err == nil {
		return docs, nil
	}
	if _, ok := errors.As(err); ok {
		return nil, err
	}
	if ctx.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, errors.NewSearchTimeoutError(string(req.Strategy), timeout)
	}
	return nil, errors.NewExternalServiceError(req.Strategy.DataSource(), err)
}

// search runs one backend call, turning a panic into an attempt failure.
func (d *Dispatcher) search(ctx context.Context, backend Backend, req Request) (docs []Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Backend panicked", map[string]interface{}{
				"strategy": string(req.Strategy),
				"panic":    fmt.Sprint(r),
			})
			docs = nil
			err = errors.NewExternalServiceError(req.Strategy.DataSource(), fmt.Errorf("panic: %v", r))
		}
	}()
	return backend.Search(ctx, req)
}
