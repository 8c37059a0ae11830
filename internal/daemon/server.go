// Package daemon runs the local HTTP service the browser extension talks to:
// event ingest, stat queries, status, and the embedded aggregation loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/dwell/internal/schedule"
	"github.com/runnerr0/dwell/internal/storage"
)

// DefaultPort is the dwell daemon's default listen port.
const DefaultPort = 7774

const (
	defaultMaxRequestSize = 1 << 20 // 1 MiB per batch
	shutdownTimeout       = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Host           string
	Port           int
	AuthToken      string // empty disables auth on /v1
	MaxRequestSize int64  // bytes; <=0 uses the default
	Version        string

	Events storage.EventStore
	Stats  storage.StatStore
	KV     storage.KVStore
	// Aggregation, when set, is started before the listener and stopped
	// on shutdown.
	Aggregation *schedule.Service
}

// Server is the dwell HTTP daemon.
type Server struct {
	opts       Options
	router     *gin.Engine
	instanceID string
	started    time.Time
}

// NewServer builds a Server with its routes registered. It does not listen
// until Run is called.
func NewServer(opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.MaxRequestSize <= 0 {
		opts.MaxRequestSize = defaultMaxRequestSize
	}

	s := &Server{
		opts:       opts,
		instanceID: uuid.NewString(),
		started:    time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Liveness and metrics stay open so probes work without a token.
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(limitBody(s.opts.MaxRequestSize))
	if s.opts.AuthToken != "" {
		v1.Use(requireAuth(s.opts.AuthToken))
	}

	v1.POST("/events", s.handleIngest)
	v1.GET("/stats/daily", s.handleDailyStats)
	v1.GET("/status", s.handleStatus)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully, draining
// in-flight requests for up to shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	if s.opts.Aggregation != nil {
		if err := s.opts.Aggregation.Start(ctx); err != nil {
			return fmt.Errorf("start aggregation service: %w", err)
		}
		defer s.opts.Aggregation.Stop()
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("dwell daemon listening",
		"addr", addr,
		"instance_id", s.instanceID,
		"auth", s.opts.AuthToken != "")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("dwell daemon shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
