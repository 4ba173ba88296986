package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/finsight/advisor/plugin/ai/agent"
	"github.com/finsight/advisor/server/internal/observability"
)

type postMessageRequest struct {
	Query string `json:"query"`
}

type toolLogEntry struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type postMessageResponse struct {
	Response        string         `json:"response"`
	ToolsUsed       []string       `json:"tools_used"`
	ToolLog         []toolLogEntry `json:"tool_log"`
	RoundsExhausted bool           `json:"rounds_exhausted,omitempty"`
}

// PostMessage runs one conversation turn in a session.
func (s *APIV1Service) PostMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	sessionID := c.Param("id")
	ctx := c.Request().Context()
	result, err := s.Processor.Process(ctx, sessionID, req.Query)
	if err != nil {
		if errors.Is(err, agent.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		observability.Logger(ctx).Error("failed to process query", "session_id", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process query")
	}

	return c.JSON(http.StatusOK, buildMessageResponse(result))
}

func buildMessageResponse(result *agent.Result) postMessageResponse {
	resp := postMessageResponse{
		Response:        result.Reply,
		ToolsUsed:       make([]string, 0, len(result.ToolLog)),
		ToolLog:         make([]toolLogEntry, 0, len(result.ToolLog)),
		RoundsExhausted: result.RoundsExhausted,
	}
	for _, inv := range result.ToolLog {
		resp.ToolsUsed = append(resp.ToolsUsed, inv.Name)
		resp.ToolLog = append(resp.ToolLog, toolLogEntry{
			Name:       inv.Name,
			Status:     string(inv.Status),
			DurationMS: inv.Duration().Milliseconds(),
			Error:      inv.Error,
		})
	}
	return resp
}

var _ QueryProcessor = (*agent.Orchestrator)(nil)
