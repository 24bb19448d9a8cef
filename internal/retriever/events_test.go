package retriever

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"retriever-agent/internal/common/logger"
)

func TestEmitter_DeliversInRegistrationOrder(t *testing.T) {
	e := NewEmitter(logger.NewTestLogger(t))

	var calls []string
	e.On(EventRetrievalStarted, func(ctx context.Context, evt Event) error {
		calls = append(calls, "specific-1")
		return nil
	})
	e.On(AllEvents, func(ctx context.Context, evt Event) error {
		calls = append(calls, "wildcard:"+evt.Name)
		return nil
	})
	e.On(EventRetrievalStarted, func(ctx context.Context, evt Event) error {
		calls = append(calls, "specific-2")
		return nil
	})

	e.Emit(context.Background(), Event{Name: EventRetrievalStarted})
	e.Emit(context.Background(), Event{Name: EventRetrievalCompleted})

	assert.Equal(t, []string{
		"specific-1",
		"wildcard:" + EventRetrievalStarted,
		"specific-2",
		"wildcard:" + EventRetrievalCompleted,
	}, calls)
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter(nil)

	count := 0
	off := e.On(EventRetrievalError, func(ctx context.Context, evt Event) error {
		count++
		return nil
	})
	assert.Equal(t, 1, e.HandlerCount(EventRetrievalError))

	e.Emit(context.Background(), Event{Name: EventRetrievalError})
	off()
	off()
	e.Emit(context.Background(), Event{Name: EventRetrievalError})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, e.HandlerCount(EventRetrievalError))
}

func TestEmitter_SwallowsErrorsAndPanics(t *testing.T) {
	e := NewEmitter(logger.NewTestLogger(t))

	reached := false
	e.On(AllEvents, func(ctx context.Context, evt Event) error {
		return fmt.Errorf("listener down")
	})
	e.On(AllEvents, func(ctx context.Context, evt Event) error {
		panic("boom")
	})
	e.On(AllEvents, func(ctx context.Context, evt Event) error {
		reached = true
		assert.NotNil(t, evt.Data)
		assert.False(t, evt.Timestamp.IsZero())
		return nil
	})

	assert.NotPanics(t, func() {
		e.Emit(context.Background(), Event{Name: EventToolCallCompleted})
	})
	assert.True(t, reached)
}

func TestEmitter_HandlersGetIsolatedData(t *testing.T) {
	e := NewEmitter(logger.NewTestLogger(t))

	var seen interface{}
	e.On(EventRetrievalStarted, func(ctx context.Context, evt Event) error {
		evt.Data[DataQuery] = "rewritten by listener"
		return nil
	})
	e.On(EventRetrievalStarted, func(ctx context.Context, evt Event) error {
		seen = evt.Data[DataQuery]
		return nil
	})

	data := map[string]interface{}{DataQuery: "refund policy"}
	e.Emit(context.Background(), Event{Name: EventRetrievalStarted, Data: data})

	assert.Equal(t, "refund policy", seen)
	assert.Equal(t, "refund policy", data[DataQuery])
}

func TestEmitter_ConcurrentRegistrationAndEmit(t *testing.T) {
	e := NewEmitter(nil)

	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			off := e.On(EventRetrievalStarted, func(ctx context.Context, evt Event) error {
				mu.Lock()
				total++
				mu.Unlock()
				return nil
			})
			off()
		}()
		go func() {
			defer wg.Done()
			e.Emit(context.Background(), Event{Name: EventRetrievalStarted})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, e.HandlerCount(EventRetrievalStarted))
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, total, 20*20)
}
