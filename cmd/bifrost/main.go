// Command bifrost runs the log analysis bridge until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/bifrost"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	"github.com/drblury/bifrost/internal/runtime/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bifrost:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("BIFROST_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := bifrost.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	slogger, err := bifrost.NewSlog(os.Stdout, loggingpkg.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	logger := bifrost.NewSlogServiceLogger(slogger)

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Options{
		Endpoint:    cfg.TracingEndpoint,
		Insecure:    cfg.TracingInsecure,
		ServiceName: cfg.TracingServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error("Flush spans", err, nil)
		}
	}()

	metrics := bifrost.NewMetrics(prometheus.DefaultRegisterer)
	if cfg.MetricsEnabled {
		if err := metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		srv := serveMetrics(cfg.MetricsPort, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := bifrost.NewManager(bifrost.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", nil)
	case <-mgr.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := mgr.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop pipeline: %w", err)
	}
	return mgr.Err()
}

func serveMetrics(port int, logger bifrost.ServiceLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Prometheus metrics exposed", loggingpkg.LogFields{"addr": srv.Addr, "path": "/metrics"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", err, nil)
		}
	}()
	return srv
}
