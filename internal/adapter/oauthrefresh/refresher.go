// Package oauthrefresh runs the background OAuth Refresher (spec §4.10):
// a ticker loop that preemptively refreshes accounts nearing expiry and
// clears quota-exceeded cooldowns once they've elapsed.
//
// Grounded on internal/adapter/discovery/service.go's
// atomic.Bool-guarded Start/Stop and ticker-driven discoveryLoop, and on
// its discoverConcurrently's golang.org/x/sync/errgroup bounded fan-out
// for refreshing multiple accounts per tick without unbounded goroutines.
package oauthrefresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Config tunes the refresher's tick cadence and fan-out width.
type Config struct {
	Interval          time.Duration
	ConcurrentWorkers int
	BatchLimit        int
}

// DefaultConfig matches spec §4.10's named defaults.
func DefaultConfig() Config {
	return Config{Interval: 60 * time.Second, ConcurrentWorkers: 4, BatchLimit: 100}
}

// Refresher implements ports.OAuthRefresher.
type Refresher struct {
	accounts  ports.OAuthAccountStore
	resolver  ports.CredentialResolver
	cfg       Config
	log       *slog.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	isRunning atomic.Bool
}

var _ ports.OAuthRefresher = (*Refresher)(nil)

// New builds a Refresher. resolver is used only to trigger its inline
// refresh path (invoked here for the background path's own accounts,
// since both share the same 3-attempt/debounce logic of spec §4.4).
func New(accounts ports.OAuthAccountStore, resolver ports.CredentialResolver, cfg Config, log *slog.Logger) *Refresher {
	return &Refresher{
		accounts: accounts,
		resolver: resolver,
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the ticker loop. Safe to call once; a second call returns
// an error, matching the discovery service's idempotent-start contract.
func (r *Refresher) Start(ctx context.Context) error {
	if !r.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("oauth refresher is already running")
	}
	r.ticker = time.NewTicker(r.cfg.Interval)
	go r.loop(ctx)
	return nil
}

// Stop halts the ticker loop. Safe to call multiple times.
func (r *Refresher) Stop(ctx context.Context) error {
	if !r.isRunning.CompareAndSwap(true, false) {
		return nil
	}
	if r.ticker != nil {
		r.ticker.Stop()
	}
	close(r.stopCh)
	return nil
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.isRunning.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-r.ticker.C:
			if err := r.tick(ctx); err != nil && r.log != nil {
				r.log.Warn("oauth refresh tick failed", "error", err)
			}
		}
	}
}

// tick runs one refresh pass: clear elapsed quota cooldowns, then
// preemptively refresh every account crossing its lead-time threshold.
func (r *Refresher) tick(ctx context.Context) error {
	now := time.Now()

	expiredQuotas, err := r.accounts.ListExpiredQuotas(ctx, now, r.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("listing expired quotas: %w", err)
	}
	for _, acct := range expiredQuotas {
		if err := r.accounts.ClearQuota(ctx, acct.ID); err != nil && r.log != nil {
			r.log.Warn("failed clearing quota cooldown", "account", acct.ID, "error", err)
		}
	}

	due, err := r.accounts.ListNeedingRefresh(ctx, now, r.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("listing accounts needing refresh: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.ConcurrentWorkers)
	for _, acct := range due {
		acct := acct
		eg.Go(func() error {
			r.refreshOne(egCtx, acct)
			return nil
		})
	}
	return eg.Wait()
}

func (r *Refresher) refreshOne(ctx context.Context, acct *domain.OAuthAccount) {
	// Reuse the resolver's inline refresh path via a synthetic api-key-less
	// provider so the same 3-attempt/debounce logic backs both the
	// reactive (per-request) and background refresh paths (spec §4.4/§4.10).
	synthetic := &domain.Provider{
		CLIClass:       acct.CLIClass,
		AuthMode:       domain.AuthModeOAuth,
		OAuthAccountID: acct.ID,
	}
	if _, err := r.resolver.Resolve(ctx, synthetic); err != nil && r.log != nil {
		r.log.Warn("background oauth refresh failed", "account", acct.ID, "error", err)
	}
}
