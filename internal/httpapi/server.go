// Package httpapi serves the local status and ingest HTTP API.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/ingest"
	"github.com/roach88/eggsync/internal/queue"
)

// StatusSource reads local queue status.
type StatusSource interface {
	Counts(ctx context.Context) (queue.Counts, error)
	LastSync(ctx context.Context) (time.Time, bool, error)
	ListFailed(ctx context.Context) ([]event.DetectionEvent, error)
}

// Recorder records detections.
type Recorder interface {
	Record(ctx context.Context, d event.Detection, img *event.ImageInput) (int64, error)
}

// Deps are the components the API exposes. Summaries may be nil, which
// disables the summary route.
type Deps struct {
	Status    StatusSource
	Recorder  Recorder
	Worker    ingest.Triggerer
	Monitor   ingest.OnlineChecker
	Summaries aggregate.CounterReader
	Logger    *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	router *gin.Engine
	deps   Deps
	logger *slog.Logger
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{router: router, deps: deps, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	{
		api.GET("/sync/status", s.status)
		api.GET("/sync/deadletter", s.deadLetter)
		api.POST("/sync/run", s.runSync)
		api.POST("/detections", s.recordDetection)
		if s.deps.Summaries != nil {
			api.GET("/summaries/:kind/:key", s.summary)
		}
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
