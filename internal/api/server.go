// Package api serves the capacity service over HTTP with gin.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/yardcap/internal/capacity"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/metrics"
	"github.com/zulandar/yardcap/internal/movement"
	"github.com/zulandar/yardcap/internal/replay"
	"github.com/zulandar/yardcap/internal/restriction"
	"gorm.io/gorm"
)

// Deps are the services the handlers call.
type Deps struct {
	DB           *gorm.DB
	Movements    *movement.Service
	Restrictions *restriction.Checker
	Location     *time.Location // yard time zone, for expanding restrictions
	Metrics      *metrics.Collector
	Log          zerolog.Logger
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Deps
	Port int
	Out  io.Writer
}

type server struct {
	db           *gorm.DB
	movements    *movement.Service
	capacity     *capacity.Checker
	replay       *replay.Engine
	clock        clock.Clock
	restrictions *restriction.Checker
	loc          *time.Location
	metrics      *metrics.Collector
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) (*gin.Engine, error) {
	if d.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if d.Movements == nil {
		return nil, fmt.Errorf("api: movement service is required")
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	capChecker := d.Movements.Validator().Capacity()
	s := &server{
		db:           d.DB,
		movements:    d.Movements,
		capacity:     capChecker,
		replay:       capChecker.Replay(),
		clock:        capChecker.Replay().Clock(),
		restrictions: d.Restrictions,
		loc:          d.Location,
		metrics:      d.Metrics,
	}
	if s.restrictions == nil {
		s.restrictions = restriction.NewChecker(d.DB, d.Location)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(d.Log))
	registerRoutes(router, s)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Deps)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
