package v1

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/finsight/advisor/internal/profile"
	"github.com/finsight/advisor/plugin/ai/agent"
	"github.com/finsight/advisor/plugin/ai/session"
)

// QueryProcessor runs one conversation turn against a session.
type QueryProcessor interface {
	Process(ctx context.Context, sessionID, userText string) (*agent.Result, error)
}

// APIV1Service exposes the conversation API over HTTP.
type APIV1Service struct {
	Profile   *profile.Profile
	Sessions  session.Store
	Processor QueryProcessor
	Registry  *agent.Registry
}

func NewAPIV1Service(profile *profile.Profile, sessions session.Store, processor QueryProcessor, registry *agent.Registry) *APIV1Service {
	return &APIV1Service{
		Profile:   profile,
		Sessions:  sessions,
		Processor: processor,
		Registry:  registry,
	}
}

// Register mounts the v1 routes on the given Echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	group := e.Group("/api/v1")
	group.POST("/sessions", s.CreateSession)
	group.GET("/sessions/:id", s.GetSession)
	group.DELETE("/sessions/:id", s.CloseSession)
	group.POST("/sessions/:id/messages", s.PostMessage)
}

// toolNames lists the registered tool names for session metadata.
func (s *APIV1Service) toolNames() []string {
	names := make([]string, 0, s.Registry.Count())
	for _, spec := range s.Registry.Specs() {
		names = append(names, spec.Name)
	}
	return names
}
