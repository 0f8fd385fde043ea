package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"taskminder/internal/idempotency"
	"taskminder/internal/projection"
	"taskminder/internal/service"
)

type Calendar interface {
	Occurrences(ctx context.Context, ownerID string, workspaceID *string, window projection.Window, loc *time.Location) ([]projection.Occurrence, []projection.Exclusion, error)
}

type ForceSender interface {
	ForceSend(ctx context.Context, reminderID string, now time.Time) (service.ForceResult, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of the ops API.
type Deps struct {
	Calendar   Calendar
	Dispatcher ForceSender
	Guard      idempotency.Guard
	DB         Pinger
	Gatherer   prometheus.Gatherer
	Log        zerolog.Logger
}

// Server exposes operational endpoints of the reminder engine.
type Server struct {
	engine *gin.Engine
	deps   Deps
	log    zerolog.Logger
	now    func() time.Time
}

// New constructs the HTTP server with routes and middleware configured.
func New(deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	srv := &Server{
		engine: router,
		deps:   deps,
		log:    deps.Log.With().Str("comp", "http").Logger(),
		now:    time.Now,
	}
	router.Use(srv.requestLogger())

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API handlers together.
func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	{
		api.POST("/projections", s.handleProject)
		api.GET("/users/:id/calendar", s.handleCalendar)
		api.POST("/reminders/:id/send", s.handleForceSend)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
