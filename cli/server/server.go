package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nspcc-dev/neo-mpt/cli/options"
	"github.com/nspcc-dev/neo-mpt/pkg/services/metrics"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// NewCommands returns 'serve-metrics' command.
func NewCommands() []cli.Command {
	return []cli.Command{{
		Name:   "serve-metrics",
		Usage:  "Serve prometheus and pprof metrics until interrupted",
		Action: serveMetrics,
	}}
}

func serveMetrics(ctx *cli.Context) error {
	grace, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return serveMetricsUntil(ctx, grace)
}

func serveMetricsUntil(ctx *cli.Context, grace context.Context) error {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, _, err := options.HandleLoggingParams(options.IsDebug(ctx), cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = log.Sync() }()

	prometheus := metrics.NewPrometheusService(cfg.ApplicationConfiguration.Prometheus, log)
	pprof := metrics.NewPprofService(cfg.ApplicationConfiguration.Pprof, log)
	if !cfg.ApplicationConfiguration.Prometheus.Enabled && !cfg.ApplicationConfiguration.Pprof.Enabled {
		return cli.NewExitError("neither Prometheus nor Pprof is enabled in the configuration", 1)
	}
	if err := prometheus.Start(); err != nil {
		return cli.NewExitError(fmt.Errorf("failed to start Prometheus: %w", err), 1)
	}
	defer prometheus.ShutDown()
	if err := pprof.Start(); err != nil {
		return cli.NewExitError(fmt.Errorf("failed to start Pprof: %w", err), 1)
	}
	defer pprof.ShutDown()

	<-grace.Done()
	log.Info("shutting down", zap.Error(grace.Err()))
	return nil
}
