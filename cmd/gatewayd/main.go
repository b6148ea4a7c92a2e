// Command gatewayd runs the desktop-resident failover gateway: it loads
// configuration, wires the storage/adapter/failover stack, and serves the
// CLI forwarding routes until interrupted.
//
// Grounded on main.go's styled-logger setup, signal-driven graceful
// shutdown, and post-shutdown nerdstats reporting.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/thushan/olla/internal/app"
	"github.com/thushan/olla/internal/config"
	"github.com/thushan/olla/internal/logger"
	"github.com/thushan/olla/internal/version"
	"github.com/thushan/olla/pkg/container"
	"github.com/thushan/olla/pkg/format"
	"github.com/thushan/olla/pkg/nerdstats"
	"github.com/thushan/olla/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level: cfg.Logging.Level,
		Theme: "default",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	// applicationRef is assigned once app.New returns, but the settings
	// watcher callback fires from viper's fsnotify goroutine and may run
	// before that happens, so the handoff goes through an atomic pointer
	// rather than a plain variable.
	var applicationRef atomic.Pointer[app.Application]
	settings, err := config.LoadRuntimeSettings(func(s config.RuntimeSettings) {
		if application := applicationRef.Load(); application != nil {
			application.ApplyRuntimeSettings(s)
		}
	})
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to load runtime settings", "error", err)
	}
	styledLogger.Info("initialising", "version", version.Version, "pid", os.Getpid(),
		"containerised", container.IsContainerised(),
		"thinking_signature_rectifier", settings.ThinkingSignatureRectifierEnabled,
		"response_fixer", settings.ResponseFixerEnabled)

	if cfg.Server.EnableProfiler {
		profiler.InitialiseProfiler()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	application, err := app.New(ctx, cfg, settings, logInstance)
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to create application", "error", err)
	}
	applicationRef.Store(application)

	if err := application.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "failed to start application", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-application.Errors():
		styledLogger.Error("server error", "error", err)
	}

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("gatewayd has shutdown")
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()
	stats := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)
	log.Info("process allocation stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", int64(stats.Mallocs)-int64(stats.Frees),
	)
}
