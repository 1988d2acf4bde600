// Package main runs the akM control daemon: it keeps the JACK audio server and
// the SuperCollider interpreter alive for the spatialization engine, wires new
// audio clients into its inputs, and exposes a WebSocket and REST control
// surface.
//
// Usage:
//
//	akm-control [-config path/to/config.json]
//
// If -config is not specified, the daemon looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/contactlaplanque/akm-control/internal/bus"
	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/console"
	"github.com/contactlaplanque/akm-control/internal/engine"
	"github.com/contactlaplanque/akm-control/internal/eventlog"
	"github.com/contactlaplanque/akm-control/internal/metrics"
	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// Build information, set via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.New(configPath)
	if err := cfg.Load(); err != nil {
		return util.WrapError("load config", err)
	}
	snap := cfg.Snapshot()

	capture := setupLogging(&snap)
	slog.Info("using config file", "path", configPath, "version", Version)

	var publisher engine.Publisher
	if snap.HasBus() {
		p, err := bus.Connect(snap.Bus.URL, snap.Bus.SubjectPrefix, snap.Jack.ClientName)
		if err != nil {
			slog.Warn("event bus disabled", "error", err)
		} else {
			defer p.Close()
			publisher = p
		}
	}

	var (
		provider *metrics.Provider
		m        *metrics.Metrics
	)
	if snap.Metrics.Enabled {
		var err error
		if provider, err = metrics.NewPrometheusProvider(); err != nil {
			return util.WrapError("create metrics provider", err)
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				slog.Warn("metrics provider shutdown failed", "error", err)
			}
		}()
		if m, err = metrics.NewMetrics(provider); err != nil {
			return util.WrapError("create metrics", err)
		}
	}

	eventLogPath := snap.EventLog.Path
	if eventLogPath == "" {
		eventLogPath = eventlog.DefaultLogPath(snap.Web.Port)
	}

	versions := NewVersionChecker()
	eng, err := engine.New(cfg, engine.Options{
		Capture:      capture,
		Metrics:      m,
		Publisher:    publisher,
		EventLogPath: eventLogPath,
		Version:      versions.Info,
	})
	if err != nil {
		return util.WrapError("create engine", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return util.WrapError("start engine", err)
	}

	srv := NewServer(cfg, eng, provider)
	httpServer := srv.HTTPServer(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting web server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return util.WrapError("HTTP server", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return versions.Run(gctx)
	})

	werr := g.Wait()
	slog.Info("shutting down")

	if err := eng.Stop(); err != nil {
		slog.Error("error stopping engine", "error", err)
	}

	slog.Info("shutdown complete")
	return werr
}

// setupLogging installs the default logger and returns the handler that
// captures the configured components into log consoles.
func setupLogging(snap *config.Snapshot) *console.CaptureHandler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(snap.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	if strings.EqualFold(snap.Logging.Format, "json") {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}

	capture := console.NewCaptureHandler(inner, snap.Synth.ConsoleLines, snap.Logging.Categories...)
	slog.SetDefault(slog.New(capture))
	return capture
}
