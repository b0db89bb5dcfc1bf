// Package api exposes meetings over HTTP: setup generation, synchronous
// and queued meeting runs, and the archive of finished transcripts.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/internal/api/auth"
	"github.com/aideepspeak/internal/archive"
	"github.com/aideepspeak/internal/jobqueue"
	"github.com/aideepspeak/internal/setupgen"
	"github.com/aideepspeak/pkg/models"
)

// MeetingRunner executes one conversation setup to completion.
type MeetingRunner interface {
	RunMeeting(ctx context.Context, setup models.Setup) (models.Transcript, error)
}

// Options wires the server's collaborators. Runner is required for
// synchronous runs; Queue, Archive, Generator and Tokens are optional and
// their endpoints answer 503 when absent. A nil Tokens leaves the API open,
// which is the local single-user mode.
type Options struct {
	Addr      string
	Runner    MeetingRunner
	Queue     *jobqueue.JobQueue
	Archive   *archive.Store
	Generator *setupgen.Generator
	Tokens    *auth.TokenService
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	opts Options
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		opts: opts,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	if s.opts.Tokens != nil {
		s.echo.POST("/api/v1/auth/token", s.exchangeToken)
		v1.Use(auth.RequireAuth(s.opts.Tokens))
	} else {
		log.Warn().Msg("API authentication disabled; no API key hash configured")
	}

	v1.POST("/setups/generate", s.generateSetup)

	v1.POST("/meetings", s.createMeeting)
	v1.GET("/meetings", s.listMeetings)
	v1.GET("/meetings/stats", s.meetingStats)
	v1.GET("/meetings/:id", s.getMeeting)
	v1.DELETE("/meetings/:id", s.deleteMeeting)
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins the API server and blocks until an interrupt arrives, then
// shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.opts.Addr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.opts.Queue != nil {
		if err := s.opts.Queue.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to stop job queue cleanly")
		}
	}

	return s.echo.Shutdown(ctx)
}

// Shutdown stops the server without waiting for a signal.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) exchangeToken(c echo.Context) error {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	resp, err := s.opts.Tokens.Exchange(req.APIKey)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid API key",
		})
	}

	return c.JSON(http.StatusOK, resp)
}

func serviceUnavailable(c echo.Context, what string) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{
		"error": fmt.Sprintf("%s not configured", what),
	})
}
