package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/finsight/advisor/plugin/ai/session"
	"github.com/finsight/advisor/server/internal/observability"
)

type createSessionRequest struct {
	Ticker   string          `json:"ticker"`
	Analysis json.RawMessage `json:"analysis"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Ticker    string `json:"ticker"`
	Status    string `json:"status"`
}

type turnSummary struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	ToolsUsed []string  `json:"tools_used"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID      string        `json:"session_id"`
	Ticker         string        `json:"ticker"`
	CreatedAt      time.Time     `json:"created_at"`
	History        []turnSummary `json:"conversation_history"`
	ToolsAvailable []string      `json:"tools_available"`
}

// CreateSession opens a new conversation seeded with an analysis
// snapshot.
func (s *APIV1Service) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Ticker == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ticker is required")
	}

	ctx := c.Request().Context()
	sess, err := s.Sessions.Create(ctx, req.Ticker, req.Analysis)
	if err != nil {
		observability.Logger(ctx).Error("failed to create session", "ticker", req.Ticker, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	return c.JSON(http.StatusOK, createSessionResponse{
		SessionID: sess.ID,
		Ticker:    sess.Ticker,
		Status:    "created",
	})
}

// GetSession returns session metadata and the conversation history.
func (s *APIV1Service) GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := s.Sessions.Load(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		observability.Logger(ctx).Error("failed to load session", "session_id", c.Param("id"), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load session")
	}

	history := make([]turnSummary, 0, len(sess.History))
	for _, turn := range sess.History {
		names := make([]string, 0, len(turn.ToolLog))
		for _, inv := range turn.ToolLog {
			names = append(names, inv.Name)
		}
		history = append(history, turnSummary{
			Query:     turn.UserText,
			Response:  turn.AssistantText,
			ToolsUsed: names,
			CreatedAt: turn.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, sessionResponse{
		SessionID:      sess.ID,
		Ticker:         sess.Ticker,
		CreatedAt:      sess.CreatedAt,
		History:        history,
		ToolsAvailable: s.toolNames(),
	})
}

// CloseSession drops a session. Closing an unknown session succeeds.
func (s *APIV1Service) CloseSession(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.Sessions.Close(ctx, c.Param("id")); err != nil {
		observability.Logger(ctx).Error("failed to close session", "session_id", c.Param("id"), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to close session")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "closed"})
}
