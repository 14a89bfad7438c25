// Package api serves the read-only HTTP surface: health, report queries and
// Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/models"
	"github.com/cooldog631-ai/aim-bot/internal/report"
	"github.com/cooldog631-ai/aim-bot/internal/store"
)

// Querier is the read side of the report store.
type Querier interface {
	Reports(ctx context.Context, f store.ReportFilter) ([]report.Record, error)
	EmployeesWithoutReport(ctx context.Context, on time.Time) ([]models.Employee, error)
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Store    Querier
	Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Port     int
	Out      io.Writer
	Log      *logger.Logger
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
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

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api: store is required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}
