package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/advisor/plugin/ai"
)

// stubTool is a scriptable Tool for dispatcher tests.
type stubTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (any, error)
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub tool " + s.name }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return s.fn(ctx, args)
}

func newTestRegistry(t *testing.T, tools ...Tool) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, registry.Register(tool))
	}
	return registry
}

func invocationByID(t *testing.T, invocations []ai.ToolInvocation, id string) ai.ToolInvocation {
	t.Helper()
	for _, inv := range invocations {
		if inv.CorrelationID == id {
			return inv
		}
	}
	t.Fatalf("no invocation with correlation id %s", id)
	return ai.ToolInvocation{}
}

func TestRunBatchCorrelationCompleteness(t *testing.T) {
	registry := newTestRegistry(t,
		&stubTool{name: "ok", fn: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"fine": true}, nil
		}},
		&stubTool{name: "boom", fn: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("backend unavailable")
		}},
	)
	dispatcher := NewDispatcher(4)

	var requests []ai.ToolRequest
	for i := 0; i < 6; i++ {
		name := "ok"
		if i%2 == 1 {
			name = "boom"
		}
		requests = append(requests, ai.ToolRequest{
			CorrelationID: fmt.Sprintf("call_%d", i),
			Name:          name,
			Arguments:     json.RawMessage(`{}`),
		})
	}

	invocations := dispatcher.RunBatch(context.Background(), registry, requests)
	require.Len(t, invocations, 6)

	seen := make(map[string]int)
	for _, inv := range invocations {
		seen[inv.CorrelationID]++
	}
	for _, req := range requests {
		assert.Equal(t, 1, seen[req.CorrelationID], "correlation id %s", req.CorrelationID)
	}
}

func TestRunBatchErrorIsolation(t *testing.T) {
	registry := newTestRegistry(t,
		&stubTool{name: "healthy", fn: func(ctx context.Context, args map[string]any) (any, error) {
			return "result", nil
		}},
		&stubTool{name: "failing", fn: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("network unreachable")
		}},
		&stubTool{name: "panicking", fn: func(ctx context.Context, args map[string]any) (any, error) {
			panic("nil map write")
		}},
	)
	dispatcher := NewDispatcher(4)

	invocations := dispatcher.RunBatch(context.Background(), registry, []ai.ToolRequest{
		{CorrelationID: "a", Name: "failing"},
		{CorrelationID: "b", Name: "healthy"},
		{CorrelationID: "c", Name: "panicking"},
	})
	require.Len(t, invocations, 3)

	a := invocationByID(t, invocations, "a")
	assert.Equal(t, ai.InvocationError, a.Status)
	assert.Contains(t, a.Error, "network unreachable")

	b := invocationByID(t, invocations, "b")
	assert.Equal(t, ai.InvocationSuccess, b.Status)
	assert.Equal(t, `"result"`, b.Result)

	c := invocationByID(t, invocations, "c")
	assert.Equal(t, ai.InvocationError, c.Status)
	assert.Contains(t, c.Error, "panicked")
}

func TestRunBatchTimeoutContainment(t *testing.T) {
	registry := newTestRegistry(t,
		&stubTool{name: "slow", fn: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
		&stubTool{name: "fast", fn: func(ctx context.Context, args map[string]any) (any, error) {
			return "quick", nil
		}},
	)
	dispatcher := NewDispatcher(4, WithCallTimeout(50*time.Millisecond))

	invocations := dispatcher.RunBatch(context.Background(), registry, []ai.ToolRequest{
		{CorrelationID: "slow_call", Name: "slow"},
		{CorrelationID: "fast_call", Name: "fast"},
	})
	require.Len(t, invocations, 2)

	assert.Equal(t, ai.InvocationTimeout, invocationByID(t, invocations, "slow_call").Status)
	assert.Equal(t, ai.InvocationSuccess, invocationByID(t, invocations, "fast_call").Status)
}

func TestRunBatchBatchTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	registry := newTestRegistry(t,
		&stubTool{name: "stuck", fn: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		}},
	)
	dispatcher := NewDispatcher(1,
		WithCallTimeout(time.Minute),
		WithBatchTimeout(100*time.Millisecond))

	// Three calls against a pool of one: the first occupies the slot,
	// the rest never get one before the batch deadline.
	invocations := dispatcher.RunBatch(context.Background(), registry, []ai.ToolRequest{
		{CorrelationID: "one", Name: "stuck"},
		{CorrelationID: "two", Name: "stuck"},
		{CorrelationID: "three", Name: "stuck"},
	})
	require.Len(t, invocations, 3)

	for _, id := range []string{"one", "two", "three"} {
		assert.Equal(t, ai.InvocationTimeout, invocationByID(t, invocations, id).Status)
	}
}

func TestRunBatchPoolBounded(t *testing.T) {
	var active, peak int64

	registry := newTestRegistry(t,
		&stubTool{name: "gauge", fn: func(ctx context.Context, args map[string]any) (any, error) {
			n := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return "done", nil
		}},
	)
	dispatcher := NewDispatcher(3)

	var requests []ai.ToolRequest
	for i := 0; i < 12; i++ {
		requests = append(requests, ai.ToolRequest{
			CorrelationID: fmt.Sprintf("g%d", i),
			Name:          "gauge",
		})
	}

	invocations := dispatcher.RunBatch(context.Background(), registry, requests)
	require.Len(t, invocations, 12)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))

	for _, inv := range invocations {
		assert.Equal(t, ai.InvocationSuccess, inv.Status)
	}
}

func TestRunBatchMalformedArguments(t *testing.T) {
	registry := newTestRegistry(t,
		&stubTool{name: "typed", fn: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		}},
	)
	dispatcher := NewDispatcher(2)

	invocations := dispatcher.RunBatch(context.Background(), registry, []ai.ToolRequest{
		{CorrelationID: "bad", Name: "typed", Arguments: json.RawMessage(`{"ticker": `)},
		{CorrelationID: "good", Name: "typed", Arguments: json.RawMessage(`{"ticker":"AAPL"}`)},
	})
	require.Len(t, invocations, 2)

	bad := invocationByID(t, invocations, "bad")
	assert.Equal(t, ai.InvocationError, bad.Status)
	assert.Contains(t, bad.Error, "invalid tool arguments")

	good := invocationByID(t, invocations, "good")
	assert.Equal(t, ai.InvocationSuccess, good.Status)
	assert.Equal(t, map[string]any{"ticker": "AAPL"}, good.Parameters)
}

func TestRunBatchUnknownTool(t *testing.T) {
	dispatcher := NewDispatcher(2)

	invocations := dispatcher.RunBatch(context.Background(), newTestRegistry(t), []ai.ToolRequest{
		{CorrelationID: "x", Name: "does_not_exist"},
	})
	require.Len(t, invocations, 1)
	assert.Equal(t, ai.InvocationError, invocations[0].Status)
	assert.Contains(t, invocations[0].Error, "unknown tool")
}

func TestRunBatchEmpty(t *testing.T) {
	dispatcher := NewDispatcher(2)
	assert.Nil(t, dispatcher.RunBatch(context.Background(), newTestRegistry(t), nil))
}

func TestRunBatchRecordsTimestamps(t *testing.T) {
	registry := newTestRegistry(t,
		&stubTool{name: "timed", fn: func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return "ok", nil
		}},
	)
	dispatcher := NewDispatcher(1)

	invocations := dispatcher.RunBatch(context.Background(), registry, []ai.ToolRequest{
		{CorrelationID: "t", Name: "timed"},
	})
	require.Len(t, invocations, 1)

	inv := invocations[0]
	assert.False(t, inv.StartedAt.IsZero())
	assert.False(t, inv.CompletedAt.IsZero())
	assert.GreaterOrEqual(t, inv.Duration(), 10*time.Millisecond)
}
