// Package daemon exposes the mission service over HTTP: lifecycle
// operations, state queries, operator answers, the mission library,
// and a server-sent event stream of mission events.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/outland-robotics/missiond/internal/library"
	"github.com/outland-robotics/missiond/internal/mission"
)

// Server is the daemon's HTTP front end.
type Server struct {
	echo   *echo.Echo
	svc    *mission.Service
	lib    *library.Library
	logger *slog.Logger
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger configures the server to use the specified structured
// logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLibrary attaches a mission library, enabling load-by-name and the
// catalog listing endpoints.
func WithLibrary(lib *library.Library) Option {
	return func(s *Server) {
		s.lib = lib
	}
}

// New creates the HTTP server over the given mission service.
func New(svc *mission.Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/api/v1")
	v1.POST("/mission/load", s.handleLoad)
	v1.POST("/mission/play", s.handlePlay)
	v1.POST("/mission/pause", s.handlePause)
	v1.POST("/mission/stop", s.handleStop)
	v1.POST("/mission/restart", s.handleRestart)
	v1.GET("/mission/state", s.handleState)
	v1.GET("/mission/info", s.handleInfo)
	v1.GET("/mission", s.handleMission)
	v1.DELETE("/mission", s.handleUnload)
	v1.POST("/mission/answer", s.handleAnswer)
	v1.GET("/missions", s.handleLibraryList)
	v1.GET("/events", s.handleEvents)

	s.echo = e
	return s
}

// Start serves HTTP on addr until Shutdown is called. It blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("http api listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.InfoContext(c.Request().Context(), "http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.Round(time.Microsecond),
				"request_id", v.RequestID,
			)
			return nil
		},
	})
}
