package retriever

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
)

type recordingBackend struct {
	calls []Request
	docs  []Document
	err   error
	block bool
}

func (b *recordingBackend) Search(ctx context.Context, req Request) ([]Document, error) {
	b.calls = append(b.calls, req)
	if b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.docs, b.err
}

func docs(contents ...string) []Document {
	out := make([]Document, len(contents))
	for i, c := range contents {
		out[i] = Document{
			ID:     fmt.Sprintf("doc-%d", i),
			Score:  0.9 - float64(i)*0.1,
			Fields: map[string]interface{}{"content": c},
		}
	}
	return out
}

func newTestRetriever(t *testing.T, backends Backends, opts Options) (*Retriever, *[]Event) {
	t.Helper()
	r := New(backends, opts, logger.NewTestLogger(t))
	r.newID = func() string { return "req-1" }

	var events []Event
	r.On(AllEvents, func(ctx context.Context, evt Event) error {
		events = append(events, evt)
		return nil
	})
	return r, &events
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

func TestSearch_PrimaryStrategySucceeds(t *testing.T) {
	vector := &recordingBackend{docs: docs("alpha", "beta")}
	keyword := &recordingBackend{docs: docs("unused")}
	r, events := newTestRetriever(t, Backends{Vector: vector, Keyword: keyword}, Options{Name: "kb-retriever"})

	resp := r.Search(context.Background(), "how does the billing pipeline work", nil, "sess-1", "user-1")

	require.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "alpha", resp.Results[0].Content)
	assert.Equal(t, DataSourceVector, resp.Results[0].Source)

	assert.Equal(t, StrategyHybrid, resp.Metadata.StrategyUsed)
	assert.Equal(t, StrategyHybrid, resp.Metadata.PrimaryStrategy)
	assert.Equal(t, DataSourceVector, resp.Metadata.DataSource)
	assert.Equal(t, 2, resp.Metadata.TotalResults)
	assert.False(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, "req-1", resp.Metadata.RequestID)
	assert.Equal(t, "sess-1", resp.Metadata.SessionID)
	assert.Equal(t, "user-1", resp.Metadata.UserID)
	assert.Len(t, resp.Metadata.Attempts, 1)

	require.Len(t, vector.calls, 1)
	assert.Equal(t, StrategyHybrid, vector.calls[0].Strategy)
	assert.Equal(t, 0.7, vector.calls[0].Parameters.VectorWeight)
	assert.Empty(t, keyword.calls)

	assert.Equal(t, []string{
		EventRetrievalStarted,
		EventStrategyDecided,
		EventToolCallCompleted,
		EventRetrievalCompleted,
	}, eventNames(*events))
	for _, e := range *events {
		assert.Equal(t, "kb-retriever", e.AgentName)
		assert.Equal(t, "req-1", e.RequestID)
		assert.Equal(t, "sess-1", e.SessionID)
		assert.Equal(t, "user-1", e.UserID)
	}
}

func TestSearch_FallsBackOnBackendError(t *testing.T) {
	vector := &recordingBackend{err: fmt.Errorf("connection refused")}
	keyword := &recordingBackend{docs: docs("from elastic")}
	r, events := newTestRetriever(t, Backends{Vector: vector, Keyword: keyword}, Options{})

	resp := r.Search(context.Background(), "find the pricing document", nil, "", "")

	require.True(t, resp.Success)
	assert.Equal(t, StrategyVector, resp.Metadata.PrimaryStrategy)
	assert.Equal(t, StrategyKeyword, resp.Metadata.StrategyUsed)
	assert.Equal(t, DataSourceKeyword, resp.Metadata.DataSource)
	assert.True(t, resp.Metadata.FallbackUsed)
	require.Len(t, resp.Metadata.Attempts, 2)
	assert.Equal(t, string(errors.ErrCodeExternalService), resp.Metadata.Attempts[0].ErrorCode)
	assert.Equal(t, DataSourceKeyword, resp.Results[0].Source)

	assert.Equal(t, []string{
		EventRetrievalStarted,
		EventStrategyDecided,
		EventToolCallCompleted,
		EventFallbackActivated,
		EventToolCallCompleted,
		EventRetrievalCompleted,
	}, eventNames(*events))

	fallback := (*events)[3]
	assert.Equal(t, "vector", fallback.Data[DataFromStrategy])
	assert.Equal(t, "keyword", fallback.Data[DataToStrategy])
}

func TestSearch_BackendPanicFallsBack(t *testing.T) {
	vector := BackendFunc(func(ctx context.Context, req Request) ([]Document, error) {
		var m map[string]int
		m["boom"] = 1
		return nil, nil
	})
	keyword := &recordingBackend{docs: docs("from elastic")}
	r, events := newTestRetriever(t, Backends{Vector: vector, Keyword: keyword}, Options{})

	var resp *Response
	require.NotPanics(t, func() {
		resp = r.Search(context.Background(), "find the pricing document", nil, "", "")
	})

	require.True(t, resp.Success)
	assert.Equal(t, StrategyKeyword, resp.Metadata.StrategyUsed)
	require.Len(t, resp.Metadata.Attempts, 2)
	assert.Equal(t, string(errors.ErrCodeExternalService), resp.Metadata.Attempts[0].ErrorCode)
	assert.Contains(t, resp.Metadata.Attempts[0].Error, "panic")
	assert.Len(t, keyword.calls, 1)
	assert.Contains(t, eventNames(*events), EventFallbackActivated)
}

func TestSearch_EmptyResultTriggersFallback(t *testing.T) {
	keyword := &recordingBackend{docs: []Document{{ID: "low", Score: 0.1, Fields: map[string]interface{}{"content": "weak"}}}}
	web := &recordingBackend{docs: []Document{{Score: 1, Fields: map[string]interface{}{"snippet": "from the web", "link": "https://example.com"}}}}
	r, _ := newTestRetriever(t, Backends{Keyword: keyword, Web: web}, Options{})

	resp := r.Search(context.Background(), `"exact phrase" lookup`, nil, "", "")

	require.True(t, resp.Success)
	assert.Equal(t, StrategyWeb, resp.Metadata.StrategyUsed)
	require.Len(t, resp.Metadata.Attempts, 2)
	assert.Equal(t, string(errors.ErrCodeEmptyResult), resp.Metadata.Attempts[0].ErrorCode)
	assert.Equal(t, "from the web", resp.Results[0].Content)
	assert.Equal(t, "https://example.com", resp.Results[0].Metadata["link"])

	require.Len(t, web.calls, 1)
	assert.Equal(t, `"exact phrase" lookup`, web.calls[0].Query)
}

func TestSearch_ExhaustedChainFails(t *testing.T) {
	vector := &recordingBackend{err: fmt.Errorf("pg down")}
	keyword := &recordingBackend{err: errors.NewIndexNotFoundError("documents")}
	web := &recordingBackend{err: errors.NewWebSearchTimeoutError(3 * time.Second)}
	r, events := newTestRetriever(t, Backends{Vector: vector, Keyword: keyword, Web: web}, Options{})

	resp := r.Search(context.Background(), "billing", nil, "s", "u")

	assert.False(t, resp.Success)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RETRIEVAL_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Web search API timeout")
	assert.Len(t, resp.Metadata.Attempts, 3)
	assert.Equal(t, 0, resp.Metadata.TotalResults)

	last := (*events)[len(*events)-1]
	assert.Equal(t, EventRetrievalError, last.Name)
	assert.Equal(t, "RETRIEVAL_FAILED", last.Data[DataErrorCode])
}

func TestSearch_MissingBackendsAreSkipped(t *testing.T) {
	web := &recordingBackend{docs: []Document{{Score: 0.9, Fields: map[string]interface{}{"snippet": "only web"}}}}
	r, _ := newTestRetriever(t, Backends{Web: web}, Options{})

	resp := r.Search(context.Background(), "billing", nil, "", "")

	require.True(t, resp.Success)
	require.Len(t, resp.Metadata.Attempts, 3)
	assert.Equal(t, string(errors.ErrCodeBackendUnavailable), resp.Metadata.Attempts[0].ErrorCode)
	assert.Equal(t, string(errors.ErrCodeBackendUnavailable), resp.Metadata.Attempts[1].ErrorCode)
	assert.Equal(t, StrategyWeb, resp.Metadata.StrategyUsed)
}

func TestSearch_BackendTimeout(t *testing.T) {
	keyword := &recordingBackend{block: true}
	web := &recordingBackend{docs: []Document{{Score: 0.9, Fields: map[string]interface{}{"snippet": "web result"}}}}
	r, _ := newTestRetriever(t, Backends{Keyword: keyword, Web: web}, Options{
		Timeouts: Timeouts{Keyword: 20 * time.Millisecond},
	})

	resp := r.Search(context.Background(), "`grep` usage", nil, "", "")

	require.True(t, resp.Success)
	assert.Equal(t, string(errors.ErrCodeSearchTimeout), resp.Metadata.Attempts[0].ErrorCode)
	assert.Equal(t, StrategyWeb, resp.Metadata.StrategyUsed)
}

func TestSearch_CallerCancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	vector := &recordingBackend{}
	keyword := &recordingBackend{docs: docs("never")}
	vectorFn := BackendFunc(func(c context.Context, req Request) ([]Document, error) {
		cancel()
		return vector.Search(c, req)
	})
	r, _ := newTestRetriever(t, Backends{Vector: vectorFn, Keyword: keyword}, Options{})

	resp := r.Search(ctx, "find the pricing document", nil, "", "")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RETRIEVAL_CANCELLED", resp.Error.Code)
	assert.Empty(t, keyword.calls)
}

func TestSearch_BlankQuery(t *testing.T) {
	vector := &recordingBackend{docs: docs("x")}
	r, events := newTestRetriever(t, Backends{Vector: vector}, Options{})

	resp := r.Search(context.Background(), "   ", nil, "", "")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_QUERY", resp.Error.Code)
	assert.Empty(t, vector.calls)
	assert.Equal(t, []string{EventRetrievalStarted, EventRetrievalError}, eventNames(*events))
}

func TestSearch_EventsDisabled(t *testing.T) {
	vector := &recordingBackend{docs: docs("x")}
	r, events := newTestRetriever(t, Backends{Vector: vector}, Options{DisableEvents: true})

	resp := r.Search(context.Background(), "billing pipeline overview", nil, "", "")

	assert.True(t, resp.Success)
	assert.Empty(t, *events)
}

func TestSearch_ContextLimitsAndFilters(t *testing.T) {
	vector := &recordingBackend{docs: docs("a", "b", "c", "d")}
	r, _ := newTestRetriever(t, Backends{Vector: vector}, Options{})

	sc := &SearchContext{
		DocType:        "pdf",
		Limit:          2,
		ScoreThreshold: floatPtr(0.1),
		Filters:        map[string]interface{}{FilterWorkspaceID: "ws-1"},
		CallerAgent:    "planner",
	}
	resp := r.Search(context.Background(), "quarterly revenue breakdown", sc, "", "")

	require.True(t, resp.Success)
	assert.Len(t, resp.Results, 2)
	require.Len(t, vector.calls, 1)
	req := vector.calls[0]
	assert.Equal(t, StrategyVector, req.Strategy)
	assert.Equal(t, "ws-1", req.Filters[FilterWorkspaceID])
	assert.Equal(t, "pdf", req.Filters[FilterDocType])
	assert.Equal(t, 2, req.Parameters.Limit)
}

func TestSearch_HandlerFailureDoesNotAffectResult(t *testing.T) {
	vector := &recordingBackend{docs: docs("x")}
	r, _ := newTestRetriever(t, Backends{Vector: vector}, Options{})
	r.On(EventRetrievalCompleted, func(ctx context.Context, evt Event) error {
		panic("listener bug")
	})

	resp := r.Search(context.Background(), "billing pipeline overview", nil, "", "")
	assert.True(t, resp.Success)
}
