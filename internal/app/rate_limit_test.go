package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thushan/olla/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(config.ServerRateLimits{
		PerIPRequestsPerMinute: 60,
		BurstSize:              5,
	}, discardLogger())
	defer rl.Stop()

	handler := rl.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/claude/v1/messages", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(config.ServerRateLimits{
		PerIPRequestsPerMinute: 60,
		BurstSize:              2,
	}, discardLogger())
	defer rl.Stop()

	handler := rl.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/claude/v1/messages", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Errorf("expected eventual 429, got %d", lastCode)
	}
}

func TestRateLimiterHealthBucketIsIndependent(t *testing.T) {
	rl := NewRateLimiter(config.ServerRateLimits{
		PerIPRequestsPerMinute:  1,
		HealthRequestsPerMinute: 100,
		BurstSize:               1,
	}, discardLogger())
	defer rl.Stop()

	healthHandler := rl.Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.3:1234"
		rec := httptest.NewRecorder()
		healthHandler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("health request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiterZeroLimitMeansUnlimited(t *testing.T) {
	rl := NewRateLimiter(config.ServerRateLimits{}, discardLogger())
	defer rl.Stop()

	handler := rl.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/claude/v1/messages", nil)
		req.RemoteAddr = "10.0.0.4:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with no configured limit, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiterCleanupRemovesStaleBuckets(t *testing.T) {
	rl := NewRateLimiter(config.ServerRateLimits{
		PerIPRequestsPerMinute: 60,
		BurstSize:              5,
		CleanupInterval:        time.Hour,
	}, discardLogger())
	defer rl.Stop()

	rl.ipBuckets.Store("stale-ip", &ipBucket{lastAccess: time.Now().Add(-time.Hour).UnixNano()})
	rl.cleanupOldBuckets()

	if _, ok := rl.ipBuckets.Load("stale-ip"); ok {
		t.Error("expected stale bucket to be evicted")
	}
}
