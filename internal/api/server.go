// Package api exposes the HTTP surface: platform webhooks, the
// dashboard REST API, and the realtime websocket endpoint.
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
	"golang.org/x/time/rate"

	"github.com/mitrdesk/mitr/internal/ai"
	"github.com/mitrdesk/mitr/internal/channels"
	"github.com/mitrdesk/mitr/internal/pipeline"
	"github.com/mitrdesk/mitr/internal/realtime"
	"github.com/mitrdesk/mitr/internal/store"
)

// Server represents the API server
type Server struct {
	echo      *echo.Echo
	port      int
	store     store.ConversationStore
	users     store.UserStore
	pipeline  *pipeline.Pipeline
	channels  *channels.Registry
	hub       *realtime.Hub
	generator *ai.Generator
	connector *ai.Connector
	jwtSecret []byte
	limiter   *rate.Limiter
}

// ServerOptions carries the dependencies the server routes need.
type ServerOptions struct {
	Port      int
	Store     store.ConversationStore
	Users     store.UserStore
	Pipeline  *pipeline.Pipeline
	Channels  *channels.Registry
	Hub       *realtime.Hub
	Generator *ai.Generator
	Connector *ai.Connector
	JWTSecret string
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:      e,
		port:      opts.Port,
		store:     opts.Store,
		users:     opts.Users,
		pipeline:  opts.Pipeline,
		channels:  opts.Channels,
		hub:       opts.Hub,
		generator: opts.Generator,
		connector: opts.Connector,
		jwtSecret: []byte(opts.JWTSecret),
		// Platform webhooks retry on 5xx, so the limiter only guards
		// against floods, not normal retry traffic.
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", s.healthHandler)

	// Platform webhooks: GET is the subscription handshake, POST carries
	// message events.
	hooks := s.echo.Group("/api/webhooks")
	hooks.GET("/health", s.webhookHealthHandler)
	hooks.GET("/:channel", s.webhookChallengeHandler)
	hooks.POST("/:channel", s.webhookEventHandler, s.rateLimit)
	hooks.POST("/voice/events", s.voiceEventHandler)

	// Auth
	s.echo.POST("/api/auth/login", s.loginHandler)

	// Dashboard API (JWT protected)
	dash := s.echo.Group("/api", s.requireAuth)
	dash.GET("/conversations", s.listConversationsHandler)
	dash.GET("/conversations/:id", s.getConversationHandler)
	dash.GET("/conversations/:id/messages", s.listMessagesHandler)
	dash.GET("/conversations/:id/summary", s.conversationSummaryHandler)
	dash.POST("/conversations/:id/messages", s.postAgentMessageHandler)
	dash.PATCH("/conversations/:id/status", s.updateStatusHandler)
	dash.POST("/ai/test", s.testAIConnectionHandler)

	// Realtime websocket (token via query param, browsers cannot set
	// headers on websocket upgrade)
	s.echo.GET("/ws", s.websocketHandler)
}

func (s *Server) healthHandler(c echo.Context) error {
	resp := map[string]interface{}{
		"status": "healthy",
	}
	if s.hub != nil {
		resp["realtime_clients"] = s.hub.ClientCount()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiter.Allow() {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		}
		return next(c)
	}
}

// Start begins the API server and blocks until an interrupt signal.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	log.Info().Int("port", s.port).Msg("API server started")

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
