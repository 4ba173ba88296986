package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/finsight/advisor/plugin/ai"
)

// Dispatcher defaults.
const (
	DefaultPoolSize     = 10
	DefaultCallTimeout  = 30 * time.Second
	DefaultBatchTimeout = 2 * time.Minute
)

// Dispatcher runs a batch of tool requests concurrently over a bounded
// worker pool. Each call gets an independent timeout; an optional batch
// timeout upper-bounds the total wait, forcing still-unresolved calls
// to a timeout status.
//
// The pool is shared: batches dispatched by concurrent sessions compete
// for the same slots. Exhaustion delays queued calls, it never fails
// them outright.
type Dispatcher struct {
	pool         *semaphore.Weighted
	callTimeout  time.Duration
	batchTimeout time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.callTimeout = d
		}
	}
}

// WithBatchTimeout sets the overall batch timeout.
func WithBatchTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.batchTimeout = d
		}
	}
}

// NewDispatcher creates a dispatcher with a pool of the given size.
func NewDispatcher(poolSize int, opts ...DispatcherOption) *Dispatcher {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	d := &Dispatcher{
		pool:         semaphore.NewWeighted(int64(poolSize)),
		callTimeout:  DefaultCallTimeout,
		batchTimeout: DefaultBatchTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunBatch executes every request and blocks until each has resolved
// to success, error, or timeout, or until the batch timeout elapses.
// The result slice contains exactly one invocation per input request,
// keyed by correlation id; ordering is unspecified.
func (d *Dispatcher) RunBatch(ctx context.Context, registry *Registry, requests []ai.ToolRequest) []ai.ToolInvocation {
	if len(requests) == 0 {
		return nil
	}

	batchCtx, cancel := context.WithTimeout(ctx, d.batchTimeout)
	defer cancel()

	results := make(chan ai.ToolInvocation, len(requests))
	for _, req := range requests {
		go d.runOne(batchCtx, registry, req, results)
	}

	invocations := make([]ai.ToolInvocation, 0, len(requests))
	resolved := make(map[string]bool, len(requests))

collect:
	for len(invocations) < len(requests) {
		select {
		case inv := <-results:
			invocations = append(invocations, inv)
			resolved[inv.CorrelationID] = true
		case <-batchCtx.Done():
			break collect
		}
	}

	// Anything unresolved when the batch deadline fires is forced to a
	// timeout so the correlation set stays complete.
	if len(invocations) < len(requests) {
		now := time.Now()
		for _, req := range requests {
			if resolved[req.CorrelationID] {
				continue
			}
			slog.Warn("tool call forced to timeout by batch deadline",
				"tool", req.Name, "correlation_id", req.CorrelationID)
			invocations = append(invocations, ai.ToolInvocation{
				CorrelationID: req.CorrelationID,
				Name:          req.Name,
				Status:        ai.InvocationTimeout,
				StartedAt:     now,
				CompletedAt:   now,
				Error:         "batch timeout exceeded",
			})
		}
	}

	return invocations
}

// runOne resolves a single request and delivers exactly one invocation
// to results, unless the batch context dies first (the collector then
// synthesizes the timeout).
func (d *Dispatcher) runOne(ctx context.Context, registry *Registry, req ai.ToolRequest, results chan<- ai.ToolInvocation) {
	inv := ai.ToolInvocation{
		CorrelationID: req.CorrelationID,
		Name:          req.Name,
		StartedAt:     time.Now(),
	}

	deliver := func() {
		inv.CompletedAt = time.Now()
		select {
		case results <- inv:
		case <-ctx.Done():
		}
	}

	tool, ok := registry.Get(req.Name)
	if !ok {
		inv.Status = ai.InvocationError
		inv.Error = fmt.Sprintf("unknown tool: %s", req.Name)
		deliver()
		return
	}

	params, err := decodeArguments(req.Arguments)
	if err != nil {
		// Malformed arguments fail the call rather than degrade to an
		// empty parameter set: the model gets a decode error it can
		// correct on the next round.
		inv.Status = ai.InvocationError
		inv.Error = fmt.Sprintf("invalid tool arguments: %v", err)
		deliver()
		return
	}
	inv.Parameters = params

	// Queue for a pool slot. Waiting counts against the batch deadline
	// but not against the call's own timeout.
	if err := d.pool.Acquire(ctx, 1); err != nil {
		inv.Status = ai.InvocationTimeout
		inv.Error = "batch timeout exceeded while queued"
		deliver()
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	outcome := make(chan callOutcome, 1)
	go func() {
		// The call itself releases the slot so an abandoned execution
		// cannot hold pool capacity past its deliverable window.
		defer d.pool.Release(1)
		defer func() {
			if r := recover(); r != nil {
				outcome <- callOutcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Call(callCtx, params)
		outcome <- callOutcome{value: value, err: err}
	}()

	select {
	case out := <-outcome:
		if out.err != nil {
			// A tool surfacing the cancelled call context is a timeout,
			// not a tool failure.
			if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
				inv.Status = ai.InvocationTimeout
			} else {
				inv.Status = ai.InvocationError
			}
			inv.Error = out.err.Error()
		} else if encoded, err := json.Marshal(out.value); err != nil {
			inv.Status = ai.InvocationError
			inv.Error = fmt.Sprintf("unserializable tool result: %v", err)
		} else {
			inv.Status = ai.InvocationSuccess
			inv.Result = string(encoded)
		}
	case <-callCtx.Done():
		// Per-call deadline: mark the invocation timed out and abandon
		// the execution; it keeps running until it notices the
		// cancelled context, but its result is discarded.
		inv.Status = ai.InvocationTimeout
		inv.Error = fmt.Sprintf("tool call exceeded %s", d.callTimeout)
	}

	slog.Debug("tool call resolved",
		"tool", req.Name,
		"correlation_id", req.CorrelationID,
		"status", inv.Status,
		"duration", time.Since(inv.StartedAt))

	deliver()
}

type callOutcome struct {
	value any
	err   error
}

// decodeArguments parses the model-provided arguments. Absent
// arguments decode to an empty set; malformed ones are an error.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
