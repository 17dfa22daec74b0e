// Package main implements the vol2mqtt entry point. vol2mqtt runs ffmpeg with the
// astats filter on an audio input and publishes every RMS level it reports to an
// MQTT or NATS broker.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ldotlopez/vol2mqtt/config"
	"github.com/ldotlopez/vol2mqtt/health"
	"github.com/ldotlopez/vol2mqtt/metric"
	"github.com/ldotlopez/vol2mqtt/publisher"
	"github.com/ldotlopez/vol2mqtt/relay"
	"github.com/ldotlopez/vol2mqtt/source"
)

// Build information, overridden with -ldflags at release time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "vol2mqtt"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// run executes one relay session. It returns nil when ctx is cancelled (the
// process was asked to stop) and an error for every other way the session ends.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting vol2mqtt",
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"config", cfg.String())

	return runRelay(ctx, cfg, logger, cliCfg.ShutdownTimeout)
}

// loadConfig applies defaults, the configuration file, the environment and finally
// the command line, in that order
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cliCfg.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	registerBuildInfo(registry, logger)

	monitor := health.NewMonitor()

	var server *metric.Server
	if cfg.Metrics.Port > 0 {
		server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, monitor.Handler(appName), logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	// Resources are released with a fresh context: ctx may already be cancelled
	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), shutdownTimeout)
	}
	defer func() {
		if server == nil {
			return
		}
		sctx, cancel := shutdownCtx()
		defer cancel()
		if err := server.Stop(sctx); err != nil {
			logger.Warn("Failed to stop metrics server", "error", err)
		}
	}()

	pub, err := publisher.New(ctx, cfg.Broker,
		publisher.WithLogger(logger),
		publisher.WithMetrics(metrics))
	if err != nil {
		monitor.UpdateError(relay.HealthBroker, err)
		if ctx.Err() != nil {
			logger.Info("Stopped before the broker connection was established")
			return nil
		}
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer func() {
		sctx, cancel := shutdownCtx()
		defer cancel()
		if err := pub.Close(sctx); err != nil {
			logger.Warn("Failed to close publisher", "error", err)
		}
	}()

	proc, err := source.NewProcess(source.BuildCommand(cfg.Source),
		source.WithLogger(logger),
		source.WithStopTimeout(cfg.Source.StopTimeout))
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	defer func() {
		if err := proc.Close(cfg.Source.StopTimeout); err != nil {
			logger.Warn("Failed to stop source process", "error", err)
		}
	}()

	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithMetrics(metrics),
		relay.WithHealth(monitor),
	}
	if cfg.Throttle.Interval > 0 {
		opts = append(opts, relay.WithThrottle(time.Duration(cfg.Throttle.Interval*float64(time.Second))))
	}

	var background []waiter
	if server != nil {
		background = append(background, server)
	}
	err = supervise(ctx, relay.New(proc, pub, opts...).Run, background...)
	logTotals(registry, logger)
	if err != nil {
		return err
	}

	logger.Info("Received shutdown signal, vol2mqtt stopped")
	return nil
}

// waiter is a background service that blocks until ctx is done or it fails
type waiter interface {
	Wait(ctx context.Context) error
}

// supervise runs the relay next to the background services. They share one
// lifetime: whichever fails first cancels the others, and its error is returned.
func supervise(ctx context.Context, run func(context.Context) error, background ...waiter) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range background {
		w := w
		g.Go(func() error {
			return w.Wait(gctx)
		})
	}
	g.Go(func() error {
		return run(gctx)
	})
	return g.Wait()
}

func logTotals(registry *metric.MetricsRegistry, logger *slog.Logger) {
	counters, err := registry.Counters()
	if err != nil {
		logger.Warn("Failed to gather metrics", "error", err)
		return
	}
	logger.Info("Relay totals",
		"lines", counters["source_lines_total"],
		"readings", counters["readings_parsed_total"],
		"published", counters["broker_published_total"],
		"throttled", counters["readings_throttled_total"],
		"parse_failures", counters["source_parse_failures_total"])
}

func registerBuildInfo(registry *metric.MetricsRegistry, logger *slog.Logger) {
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metric.Namespace,
		Name:      "build_info",
		Help:      "Build information of the running binary",
	}, []string{"version", "build_time", "go_version"})
	buildInfo.WithLabelValues(Version, BuildTime, runtime.Version()).Set(1)

	if err := registry.RegisterGaugeVec(appName, "build_info", buildInfo); err != nil {
		logger.Warn("Failed to register build info metric", "error", err)
	}
}
