package app

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thushan/olla/internal/config"
	"github.com/thushan/olla/internal/util"
)

// RateLimiter enforces a global token bucket plus a per-client-IP token
// bucket, with a separate, more generous bucket for health endpoints (spec
// §7). Buckets are lock-free: refills and consumption both go through
// atomic CAS loops so concurrent requests never block on each other.
type RateLimiter struct {
	globalRequestsPerMinute int
	perIPRequestsPerMinute  int
	burstSize               int
	healthRequestsPerMinute int
	trustProxyHeaders       bool
	trustedCIDRs            []*net.IPNet
	log                     *slog.Logger

	globalTokens     int64
	lastGlobalRefill int64
	ipBuckets        sync.Map
	cleanupTicker    *time.Ticker
	stopCleanup      chan struct{}
}

type ipBucket struct {
	tokens     int64
	lastRefill int64
	lastAccess int64
}

// RateLimitResult is the outcome of one bucket check, enough to populate
// the X-RateLimit-* response headers.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int
	Limit      int
	Remaining  int
	ResetTime  time.Time
}

func NewRateLimiter(limits config.ServerRateLimits, log *slog.Logger) *RateLimiter {
	initialGlobalTokens := int64(0)
	if limits.GlobalRequestsPerMinute > 0 {
		initialGlobalTokens = int64(limits.BurstSize)
	}

	rl := &RateLimiter{
		globalRequestsPerMinute: limits.GlobalRequestsPerMinute,
		perIPRequestsPerMinute:  limits.PerIPRequestsPerMinute,
		burstSize:               limits.BurstSize,
		healthRequestsPerMinute: limits.HealthRequestsPerMinute,
		trustProxyHeaders:       limits.IPExtractionTrustProxy,
		log:                     log,
		globalTokens:            initialGlobalTokens,
		lastGlobalRefill:        time.Now().UnixNano(),
		stopCleanup:             make(chan struct{}),
	}

	if limits.CleanupInterval > 0 {
		rl.cleanupTicker = time.NewTicker(limits.CleanupInterval)
		go rl.cleanupRoutine()
	}

	return rl
}

func (rl *RateLimiter) Stop() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}
	close(rl.stopCleanup)
}

// Middleware wraps next with rate limiting. isHealthEndpoint switches to the
// health bucket's (usually much higher) per-minute limit.
func (rl *RateLimiter) Middleware(isHealthEndpoint bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := util.GetClientIP(r, rl.trustProxyHeaders, rl.trustedCIDRs)

			limit := rl.perIPRequestsPerMinute
			if isHealthEndpoint {
				limit = rl.healthRequestsPerMinute
			}

			result := rl.checkRateLimit(clientIP, limit)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				rl.log.Warn("rate limit exceeded", "client_ip", clientIP, "method", r.Method,
					"path", r.URL.Path, "limit", result.Limit, "retry_after", result.RetryAfter)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) checkRateLimit(clientIP string, limit int) RateLimitResult {
	now := time.Now()
	nowNano := now.UnixNano()

	if rl.globalRequestsPerMinute > 0 && !rl.checkGlobalLimit(nowNano) {
		return RateLimitResult{Allowed: false, RetryAfter: 60, Limit: rl.globalRequestsPerMinute, ResetTime: now.Add(time.Minute)}
	}
	return rl.checkIPLimit(clientIP, limit, nowNano, now)
}

func (rl *RateLimiter) checkGlobalLimit(nowNano int64) bool {
	if rl.globalRequestsPerMinute <= 0 {
		return true
	}
	rl.refillGlobalTokens(nowNano)

	for {
		tokens := atomic.LoadInt64(&rl.globalTokens)
		if tokens <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&rl.globalTokens, tokens, tokens-1) {
			return true
		}
	}
}

func (rl *RateLimiter) refillGlobalTokens(nowNano int64) {
	lastRefill := atomic.LoadInt64(&rl.lastGlobalRefill)
	elapsed := nowNano - lastRefill
	if elapsed < 1e9 {
		return
	}
	if !atomic.CompareAndSwapInt64(&rl.lastGlobalRefill, lastRefill, nowNano) {
		return
	}
	addTokens(&rl.globalTokens, elapsed, rl.globalRequestsPerMinute, rl.burstSize)
}

func (rl *RateLimiter) checkIPLimit(clientIP string, limit int, nowNano int64, now time.Time) RateLimitResult {
	if limit <= 0 {
		return RateLimitResult{Allowed: true, Limit: limit, Remaining: limit, ResetTime: now.Add(time.Minute)}
	}

	bucketKey := clientIP
	if limit == rl.healthRequestsPerMinute {
		bucketKey = clientIP + ":health"
	}

	initialTokens := int64(limit)
	if rl.burstSize < limit {
		initialTokens = int64(rl.burstSize)
	}

	value, _ := rl.ipBuckets.LoadOrStore(bucketKey, &ipBucket{
		tokens: initialTokens, lastRefill: nowNano, lastAccess: nowNano,
	})
	bucket := value.(*ipBucket)
	rl.refillIPTokens(bucket, limit, nowNano)

	for {
		tokens := atomic.LoadInt64(&bucket.tokens)
		if tokens <= 0 {
			tokensPerSecond := float64(limit) / 60.0
			retryAfter := int(1.0 / tokensPerSecond)
			if retryAfter < 1 {
				retryAfter = 1
			}
			return RateLimitResult{Allowed: false, RetryAfter: retryAfter, Limit: limit, ResetTime: now.Add(time.Minute)}
		}
		if atomic.CompareAndSwapInt64(&bucket.tokens, tokens, tokens-1) {
			atomic.StoreInt64(&bucket.lastAccess, nowNano)
			remaining := int(tokens - 1)
			if remaining < 0 {
				remaining = 0
			}
			return RateLimitResult{Allowed: true, Limit: limit, Remaining: remaining, ResetTime: now.Add(time.Minute)}
		}
	}
}

func (rl *RateLimiter) refillIPTokens(bucket *ipBucket, limit int, nowNano int64) {
	lastRefill := atomic.LoadInt64(&bucket.lastRefill)
	elapsed := nowNano - lastRefill
	if elapsed < 1e9 {
		return
	}
	if !atomic.CompareAndSwapInt64(&bucket.lastRefill, lastRefill, nowNano) {
		return
	}
	addTokens(&bucket.tokens, elapsed, limit, rl.burstSize)
}

func addTokens(tokens *int64, elapsedNano int64, ratePerMinute, burstSize int) {
	tokensToAdd := elapsedNano * int64(ratePerMinute) / (60 * 1e9)
	if tokensToAdd <= 0 {
		return
	}
	for {
		current := atomic.LoadInt64(tokens)
		next := current + tokensToAdd
		if max := int64(burstSize); next > max {
			next = max
		}
		if atomic.CompareAndSwapInt64(tokens, current, next) {
			return
		}
	}
}

func (rl *RateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-rl.cleanupTicker.C:
			rl.cleanupOldBuckets()
		}
	}
}

func (rl *RateLimiter) cleanupOldBuckets() {
	cutoff := time.Now().Add(-10 * time.Minute).UnixNano()
	rl.ipBuckets.Range(func(key, value any) bool {
		bucket := value.(*ipBucket)
		if atomic.LoadInt64(&bucket.lastAccess) < cutoff {
			rl.ipBuckets.Delete(key)
		}
		return true
	})
}
