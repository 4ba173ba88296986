// Package session provides persistence for interactive analysis
// conversations: an in-process cache over a TTL-bounded durable store.
package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/finsight/advisor/plugin/ai"
)

// Session is one conversation thread, anchored to a ticker and the
// analysis snapshot supplied at creation.
type Session struct {
	ID     string `json:"id"`
	Ticker string `json:"ticker"`
	// SeedContext is the analysis payload supplied at creation. It is
	// immutable afterwards and anchors the system prompt.
	SeedContext json.RawMessage `json:"seed_context"`
	History     []Turn          `json:"history"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Turn is one completed user/assistant exchange. Turns are append-only
// and immutable once appended.
type Turn struct {
	UserText      string              `json:"user_text"`
	AssistantText string              `json:"assistant_text"`
	ToolLog       []ai.ToolInvocation `json:"tool_log,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	Duration      time.Duration       `json:"duration"`
}

// AppendTurn adds a completed exchange to the history.
func (s *Session) AppendTurn(turn Turn) {
	s.History = append(s.History, turn)
}

// NewSessionID generates a session id of the form TICKER_shortuuid.
// The suffix is unguessable; the ticker prefix keeps ids readable in
// logs and URLs.
func NewSessionID(ticker string) string {
	return strings.ToUpper(ticker) + "_" + shortuuid.New()
}
