package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/vidaudio/internal/api/response"
	"github.com/kiranshivaraju/vidaudio/internal/cache"
	"golang.org/x/time/rate"
)

const defaultRequestsPerMinute = 60

const window = time.Minute

// RateLimit provides fixed-window rate limiting per client IP, shared across
// replicas through the cache.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := cache.RateLimitKey(ClientIP(r))
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, window)
		if err != nil {
			// Fail open when the cache is unavailable.
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(window).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			tooManyRequests(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket limits each client IP in-process. It is used when no shared
// cache is configured.
type TokenBucket struct {
	mu             sync.Mutex
	buckets        map[string]*bucket
	limit          rate.Limit
	requestsPerMin int
}

// NewTokenBucket allows requestsPerMin requests per client, with bursts up to
// the same amount.
func NewTokenBucket(requestsPerMin int) *TokenBucket {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &TokenBucket{
		buckets:        make(map[string]*bucket),
		limit:          rate.Every(window / time.Duration(requestsPerMin)),
		requestsPerMin: requestsPerMin,
	}
}

func (tb *TokenBucket) allow(client string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, ok := tb.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(tb.limit, tb.requestsPerMin)}
		tb.buckets[client] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// Evict drops buckets idle for longer than idle and returns how many were removed.
func (tb *TokenBucket) Evict(idle time.Duration) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for client, b := range tb.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(tb.buckets, client)
			removed++
		}
	}
	return removed
}

func (tb *TokenBucket) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tb.requestsPerMin))
		if !tb.allow(ClientIP(r)) {
			tooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of RemoteAddr. chi's RealIP middleware runs
// first and rewrites RemoteAddr from proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests", nil)
}
