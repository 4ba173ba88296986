package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/finsight/advisor/internal/profile"
	"github.com/finsight/advisor/server/internal/observability"
	"github.com/finsight/advisor/server/middleware"
	apiv1 "github.com/finsight/advisor/server/router/api/v1"
)

const (
	// Per-client budget for the conversation API.
	requestsPerSecond = 10
	requestBurst      = 20

	limiterPruneInterval = 10 * time.Minute
)

// Server hosts the conversation HTTP API.
type Server struct {
	echoServer *echo.Echo
	profile    *profile.Profile
	limiter    *middleware.RateLimiter
	stopChan   chan struct{}
}

func NewServer(profile *profile.Profile, apiService *apiv1.APIV1Service) *Server {
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true

	server := &Server{
		echoServer: echoServer,
		profile:    profile,
		limiter:    middleware.NewRateLimiter(requestsPerSecond, requestBurst),
		stopChan:   make(chan struct{}),
	}

	echoServer.Use(echomw.Recover())
	echoServer.Use(echomw.CORS())
	echoServer.Use(requestLogger())
	echoServer.Use(middleware.RateLimit(server.limiter))

	echoServer.GET("/healthz", server.healthz)
	apiService.Register(echoServer)

	return server
}

// requestLogger stamps every request with a short id, exposes it as
// X-Request-ID, and logs the outcome with a request-scoped logger.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := observability.NewRequestID()
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			logger := slog.Default().With("request_id", requestID)
			req := c.Request()
			c.SetRequest(req.WithContext(observability.WithLogger(req.Context(), logger)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				"method", req.Method,
				"uri", req.RequestURI,
				"status", c.Response().Status,
				"latency", time.Since(start))
			return nil
		}
	}
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	go s.pruneLoop()

	addr := s.profile.ListenAddr()
	slog.Info("server started", "addr", addr, "version", s.profile.Version)
	if err := s.echoServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to start server")
	}
	return nil
}

// Shutdown drains in-flight requests before stopping.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopChan)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown server")
	}
	slog.Info("server stopped")
	return nil
}

func (s *Server) pruneLoop() {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limiter.Prune(limiterPruneInterval)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.profile.Version,
	})
}
