package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/finsight/advisor/plugin/ai"
	"github.com/finsight/advisor/plugin/ai/session"
)

// ErrSessionNotFound is surfaced when a query references an unknown,
// expired, or closed session.
var ErrSessionNotFound = session.ErrNotFound

// DefaultMaxToolRounds caps how many times one query may cycle through
// tool execution before the conversation is cut short.
const DefaultMaxToolRounds = 5

// modelFailureReply is returned to the user when the model endpoint
// itself fails; the failed exchange is not recorded.
const modelFailureReply = "I'm sorry, I couldn't reach the analysis model just now. Please try again in a moment."

// Result is the outcome of one Process call.
type Result struct {
	// Reply is the final assistant text.
	Reply string
	// ToolLog records every tool invocation made while answering, in
	// resolution order.
	ToolLog []ai.ToolInvocation
	// RoundsExhausted is set when the model was still requesting tools
	// at the round cap and the reply is therefore partial.
	RoundsExhausted bool
}

// Orchestrator drives the conversation state machine: ask the model,
// run whatever tools it requests, feed the results back, and repeat
// until it answers in plain text.
type Orchestrator struct {
	model      ai.ModelClient
	registry   *Registry
	dispatcher *Dispatcher
	sessions   session.Store
	maxRounds  int

	// locks serializes Process calls per session id so concurrent
	// queries against one conversation cannot lose turns to a
	// load/save race.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxToolRounds overrides the tool-round cap.
func WithMaxToolRounds(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// NewOrchestrator wires the conversation loop together.
func NewOrchestrator(model ai.ModelClient, registry *Registry, dispatcher *Dispatcher, sessions session.Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		model:      model,
		registry:   registry,
		dispatcher: dispatcher,
		sessions:   sessions,
		maxRounds:  DefaultMaxToolRounds,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process answers one user query within a session. Tool failures and
// timeouts are folded into the conversation as data the model can react
// to; only session lookup errors reach the caller as errors. A model
// endpoint failure yields an apologetic reply and leaves the session
// history untouched.
func (o *Orchestrator) Process(ctx context.Context, sessionID, userText string) (*Result, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	start := time.Now()

	sess, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, errors.Wrapf(ErrSessionNotFound, "session %s", sessionID)
		}
		return nil, errors.Wrap(err, "failed to load session")
	}

	messages := buildMessages(sess, userText)
	specs := o.registry.Specs()

	result := &Result{}
	for round := 0; ; round++ {
		reply, err := o.model.Send(ctx, messages, specs)
		if err != nil {
			slog.Error("model invocation failed",
				"session_id", sessionID, "round", round, "error", err)
			result.Reply = modelFailureReply
			return result, nil
		}

		if !reply.WantsTools() {
			result.Reply = reply.Text
			break
		}

		if round >= o.maxRounds {
			slog.Warn("tool round cap reached",
				"session_id", sessionID, "rounds", round)
			result.Reply = reply.Text
			if result.Reply == "" {
				result.Reply = "Analysis stopped before completion: the tool budget for this query was exhausted."
			}
			result.RoundsExhausted = true
			break
		}

		invocations := o.dispatcher.RunBatch(ctx, o.registry, reply.ToolRequests)
		result.ToolLog = append(result.ToolLog, invocations...)

		// The assistant's tool-call message must precede the results,
		// and every requested correlation id must be answered exactly
		// once for the next model turn to be valid.
		messages = append(messages, ai.Message{
			Role:      ai.RoleAssistant,
			Content:   reply.Text,
			ToolCalls: reply.ToolRequests,
		})
		for _, inv := range invocations {
			messages = append(messages, ai.ToolResultMessage(inv.CorrelationID, toolResultContent(inv)))
		}
	}

	sess.AppendTurn(session.Turn{
		UserText:      userText,
		AssistantText: result.Reply,
		ToolLog:       result.ToolLog,
		CreatedAt:     time.Now(),
		Duration:      time.Since(start),
	})
	if err := o.sessions.Save(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "failed to persist turn")
	}

	slog.Info("query processed",
		"session_id", sessionID,
		"tool_calls", len(result.ToolLog),
		"rounds_exhausted", result.RoundsExhausted,
		"duration", time.Since(start))

	return result, nil
}

// toolResultContent serializes an invocation outcome for the model.
// Failures become structured payloads the model can adapt to instead of
// aborting the conversation.
func toolResultContent(inv ai.ToolInvocation) string {
	switch inv.Status {
	case ai.InvocationSuccess:
		return inv.Result
	case ai.InvocationTimeout:
		return `{"error":"tool call timed out","detail":` + marshalString(inv.Error) + `}`
	default:
		return `{"error":"tool call failed","detail":` + marshalString(inv.Error) + `}`
	}
}

func (o *Orchestrator) lockSession(id string) func() {
	o.mu.Lock()
	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
