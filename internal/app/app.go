// Package app wires the gateway's adapters into the Failover Loop and
// exposes it over HTTP. It owns the server lifecycle, route table, rate
// limiting, and the background OAuth refresher.
//
// Grounded on internal/app/app.go's Application struct and New/Start/Stop
// lifecycle, generalised from a single-proxy-service wiring to the
// gateway's ten-adapter failover stack.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/thushan/olla/internal/adapter/breaker"
	"github.com/thushan/olla/internal/adapter/classifier"
	"github.com/thushan/olla/internal/adapter/credential"
	"github.com/thushan/olla/internal/adapter/fingerprint"
	"github.com/thushan/olla/internal/adapter/oauthrefresh"
	"github.com/thushan/olla/internal/adapter/selector"
	"github.com/thushan/olla/internal/adapter/sender"
	"github.com/thushan/olla/internal/adapter/session"
	"github.com/thushan/olla/internal/adapter/streaming"
	"github.com/thushan/olla/internal/config"
	"github.com/thushan/olla/internal/core/ports"
	"github.com/thushan/olla/internal/failover"
	"github.com/thushan/olla/internal/router"
	"github.com/thushan/olla/internal/storage/sqlite"
	"github.com/thushan/olla/pkg/eventbus"
)

// Application owns every long-lived component the gateway needs: the
// persistence store, the adapter stack, the failover loop, the HTTP
// server, and the background OAuth refresher.
type Application struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *sqlite.Store
	events *eventbus.EventBus[ports.GatewayEvent]

	breakers    *breaker.Registry
	sessions    *session.Table
	refresher   *oauthrefresh.Refresher
	rateLimiter *RateLimiter
	sizeLimiter *SizeLimiter
	cls         *classifier.Classifier
	tee         *streaming.Tee
	loop        *failover.Loop
	registry    *router.RouteRegistry

	server *http.Server
	errCh  chan error
}

// New builds an Application from a loaded Config, opening the SQLite store
// and wiring every adapter into a failover.Loop. settings seeds the
// classifier rectifiers and streaming tee's response fixer; ApplyRuntimeSettings
// re-applies the same fields later when settings.json changes underneath a
// running process. It does not start the HTTP listener or the background
// refresher; call Start for that.
func New(ctx context.Context, cfg *config.Config, settings config.RuntimeSettings, log *slog.Logger) (*Application, error) {
	store, err := sqlite.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	breakers := breaker.New(breaker.Config{
		FailureThreshold:    cfg.Failover.BreakerFailThreshold,
		OpenTimeout:         cfg.Failover.BreakerOpenTimeout,
		HalfOpenMaxRequests: 1,
	}, store, log)

	sessions := session.New(cfg.Failover.SessionBindingMaxSize, cfg.Failover.SessionBindingTTL)
	sel := selector.New(store, store, sessions, breakers)
	creds := credential.New(store, log)
	gate := fingerprint.New()
	sndr := sender.New(&http.Client{Timeout: cfg.Streaming.ReadTimeout}, sender.DefaultConfig())
	cls := classifier.New()
	cls.SetRectifierToggles(settings.ThinkingSignatureRectifierEnabled, settings.ThinkingBudgetRectifierEnabled)
	tee := streaming.New(streaming.Config{
		ReadTimeout:  cfg.Streaming.ReadTimeout,
		DrainGrace:   cfg.Streaming.DrainGrace,
		BufferSize:   cfg.Streaming.BufferSize,
		BufferCap:    cfg.Streaming.NonStreamBufferCap,
		FixerEnabled: settings.ResponseFixerEnabled,
	}, log)

	events := eventbus.New[ports.GatewayEvent]()

	loopCfg := failover.Config{
		MaxProviderSwitches:   cfg.Failover.MaxProviderSwitches,
		MaxRetriesPerProvider: cfg.Failover.MaxRetriesPerProvider,
	}
	loop := failover.New(loopCfg, sel, creds, sndr, cls, tee, breakers, sessions, gate, store, events, log)

	refresher := oauthrefresh.New(store, creds, oauthrefresh.Config{
		Interval:          cfg.OAuth.RefreshInterval,
		ConcurrentWorkers: cfg.OAuth.ConcurrentWorkers,
		BatchLimit:        cfg.OAuth.BatchLimit,
	}, log)

	rateLimiter := NewRateLimiter(cfg.Server.RateLimits, log)
	sizeLimiter := NewSizeLimiter(cfg.Server.RequestLimits.MaxBodySize)
	registry := router.NewRouteRegistry(log)

	a := &Application{
		cfg:         cfg,
		log:         log,
		store:       store,
		events:      events,
		breakers:    breakers,
		sessions:    sessions,
		refresher:   refresher,
		rateLimiter: rateLimiter,
		sizeLimiter: sizeLimiter,
		cls:         cls,
		tee:         tee,
		loop:        loop,
		registry:    registry,
		errCh:       make(chan error, 1),
	}

	a.server = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: int(cfg.Server.RequestLimits.MaxHeaderSize),
	}

	return a, nil
}

// Start wires the route table onto the HTTP mux, launches the listener and
// the background OAuth refresher. Listener failures are delivered
// asynchronously on Errors().
func (a *Application) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	a.registerRoutes()
	a.registry.WireUpWithMiddleware(mux, a.sizeLimiter, a.rateLimiter)
	a.server.Handler = mux

	if err := a.refresher.Start(ctx); err != nil {
		return fmt.Errorf("starting oauth refresher: %w", err)
	}

	a.logEvents(ctx)

	a.log.Info("starting gateway server", "bind", a.server.Addr)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", "error", err)
			a.errCh <- err
		}
	}()
	return nil
}

// logEvents subscribes a background consumer that logs every gateway
// event, giving breaker trips and quota exhaustion a durable trace outside
// the request path that produced them.
func (a *Application) logEvents(ctx context.Context) {
	events, cleanup := a.events.Subscribe(ctx)
	go func() {
		defer cleanup()
		for ev := range events {
			a.log.Info("gateway event", "type", ev.Type, "provider_id", ev.ProviderID, "trace_id", ev.TraceID, "detail", ev.Detail)
		}
	}()
}

// ApplyRuntimeSettings re-applies a settings.json change to the running
// classifier and streaming tee, called from the config watcher registered in
// cmd/gatewayd's startup.
func (a *Application) ApplyRuntimeSettings(s config.RuntimeSettings) {
	a.cls.SetRectifierToggles(s.ThinkingSignatureRectifierEnabled, s.ThinkingBudgetRectifierEnabled)
	a.tee.SetFixerEnabled(s.ResponseFixerEnabled)
	a.log.Info("runtime settings reloaded",
		"thinking_signature_rectifier", s.ThinkingSignatureRectifierEnabled,
		"thinking_budget_rectifier", s.ThinkingBudgetRectifierEnabled,
		"response_fixer", s.ResponseFixerEnabled)
}

// Errors returns the channel Start delivers unexpected listener failures
// on.
func (a *Application) Errors() <-chan error {
	return a.errCh
}

// Stop drains in-flight requests up to the configured shutdown timeout,
// then tears down the background refresher, rate limiter and storage
// handle.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.refresher.Stop(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("stopping oauth refresher: %w", err)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("http server shutdown error: %w", err)
	}
	a.rateLimiter.Stop()
	a.events.Shutdown()
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing storage: %w", err)
	}
	return firstErr
}
