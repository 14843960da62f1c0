package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per key and window.
	Max int
	// Window is the counting window.
	Window time.Duration
	// KeyFunc extracts the key from a request. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting, e.g. processor webhooks.
	Skip func(*http.Request) bool
}

// SkipPaths exempts requests whose path has one of prefixes.
func SkipPaths(prefixes ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}

// window holds counts for the current and the previous window of one key.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// MemoryLimiter is a per-process sliding window limiter. The previous
// window's count is weighted by its overlap with the sliding window.
type MemoryLimiter struct {
	max  int
	size time.Duration

	mu   sync.Mutex
	keys map[string]*window
}

// NewMemoryLimiter creates a MemoryLimiter allowing max requests per size.
func NewMemoryLimiter(max int, size time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: max, size: size, keys: make(map[string]*window)}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.keys[key]
	if !ok {
		w = &window{currStart: now.Truncate(l.size)}
		l.keys[key] = w
	}

	switch elapsed := now.Sub(w.currStart); {
	case elapsed >= 2*l.size:
		w.prev, w.curr = 0, 0
		w.currStart = now.Truncate(l.size)
	case elapsed >= l.size:
		w.prev, w.curr = w.curr, 0
		w.currStart = now.Truncate(l.size)
	}

	overlap := 1 - now.Sub(w.currStart).Seconds()/l.size.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	count := w.prev*overlap + w.curr
	resetAt := w.currStart.Add(l.size)

	if count >= float64(l.max) {
		return Decision{ResetAt: resetAt}, nil
	}
	w.curr++

	remaining := int(float64(l.max) - count - 1)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// Evict drops keys with no requests in the last two windows.
func (l *MemoryLimiter) Evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.keys {
		if now.Sub(w.currStart) >= 2*l.size {
			delete(l.keys, key)
		}
	}
}

// RunEviction calls Evict every two windows until ctx is done.
func (l *MemoryLimiter) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * l.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Evict(now)
		}
	}
}

// incrWindowScript increments the window counter and sets its expiry on
// first use. It returns the new count and the remaining TTL in milliseconds.
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter is a fixed window limiter shared by every replica.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	max    int
	size   time.Duration
}

// NewRedisLimiter creates a RedisLimiter allowing max requests per size.
func NewRedisLimiter(client redis.Scripter, prefix string, max int, size time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: max, size: size}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.size)
	redisKey := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	res, err := incrWindowScript.Run(ctx, l.client, []string{redisKey}, l.size.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	count, ttl := res[0], res[1]

	resetAt := start.Add(l.size)
	if ttl > 0 {
		resetAt = now.Add(time.Duration(ttl) * time.Millisecond)
	}
	remaining := l.max - int(count)
	if remaining < 0 {
		return Decision{ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// RateLimit returns a middleware that rejects requests over the limit with
// 429 and sets X-RateLimit-* headers on every limited route. When the
// limiter fails the request is let through.
func RateLimit(l Limiter, cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), keyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := time.Until(d.ResetAt)
				if retry < 0 {
					retry = 0
				}
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
