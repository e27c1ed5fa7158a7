package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"github.com/CodingButter/braidarr/pkg/httputil"
)

// maxPeekBytes bounds how much of the body the auth key func will read.
const maxPeekBytes = 1 << 20

// RateLimitConfig holds the three rate limit policies.
type RateLimitConfig struct {
	GlobalLimit   int
	GlobalWindow  time.Duration
	AuthLimit     int
	AuthWindow    time.Duration
	RefreshLimit  int
	RefreshWindow time.Duration
}

// RateLimiter builds the httprate middlewares used by the router. When a
// redis client is supplied the counters live in redis so limits hold across
// instances; otherwise httprate's in-process counters apply per instance.
type RateLimiter struct {
	cfg   RateLimitConfig
	redis *redis.Client
}

// NewRateLimiter creates a rate limiter. redisClient may be nil.
func NewRateLimiter(cfg RateLimitConfig, redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{cfg: cfg, redis: redisClient}
}

// Global limits all traffic per client IP.
func (l *RateLimiter) Global() func(http.Handler) http.Handler {
	return l.limit("global", l.cfg.GlobalLimit, l.cfg.GlobalWindow, keyByClientIP)
}

// Auth limits login and register attempts per IP plus the submitted email, so
// one address cannot lock out an account for everyone else, and one client
// cannot spray many accounts for free.
func (l *RateLimiter) Auth() func(http.Handler) http.Handler {
	return l.limit("auth", l.cfg.AuthLimit, l.cfg.AuthWindow, keyByIPAndEmail)
}

// Refresh limits token refreshes per client IP.
func (l *RateLimiter) Refresh() func(http.Handler) http.Handler {
	return l.limit("refresh", l.cfg.RefreshLimit, l.cfg.RefreshWindow, keyByClientIP)
}

func (l *RateLimiter) limit(name string, requests int, window time.Duration, keyFn httprate.KeyFunc) func(http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(keyFn),
		httprate.WithLimitHandler(limitHandler(window)),
	}
	if l.redis != nil {
		opts = append(opts, httprate.WithLimitCounter(&redisCounter{
			client: l.redis,
			prefix: "braidarr:ratelimit:" + name,
		}))
	}
	return httprate.Limit(requests, window, opts...)
}

// limitHandler writes the rate-limit error body. httprate has already set the
// X-RateLimit-* and Retry-After headers by the time this runs.
func limitHandler(window time.Duration) http.HandlerFunc {
	retryAfter := int(window.Seconds())
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorBody{
			Error:      "RATE_LIMITED",
			Message:    "too many requests, please try again later",
			RetryAfter: retryAfter,
		})
	}
}

func keyByClientIP(r *http.Request) (string, error) {
	return clientIP(r), nil
}

// keyByIPAndEmail keys on client IP plus the lowercased email peeked from the
// JSON body. The body is restored so the handler can read it again. When the
// body is absent or unparseable the IP alone is the key.
func keyByIPAndEmail(r *http.Request) (string, error) {
	ip := clientIP(r)
	if r.Body == nil {
		return ip, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ip, nil
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Email == "" {
		return ip, nil
	}
	return ip + "|" + strings.ToLower(req.Email), nil
}

// redisCounter implements httprate.LimitCounter on redis, giving all
// instances a shared view of each window.
type redisCounter struct {
	client       *redis.Client
	prefix       string
	windowLength time.Duration
}

// redisCounterTimeout bounds each counter operation. Increments run on a
// detached context so a client disconnect cannot lose accounting.
const redisCounterTimeout = 2 * time.Second

func (c *redisCounter) Config(requestLimit int, windowLength time.Duration) {
	c.windowLength = windowLength
}

func (c *redisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *redisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisCounterTimeout)
	defer cancel()

	redisKey := c.key(key, currentWindow)
	pipe := c.client.TxPipeline()
	pipe.IncrBy(ctx, redisKey, int64(amount))
	// Keep the previous window readable until it rotates out of scope.
	pipe.Expire(ctx, redisKey, 2*c.windowLength)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment rate limit counter: %w", err)
	}
	return nil
}

func (c *redisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisCounterTimeout)
	defer cancel()

	values, err := c.client.MGet(ctx, c.key(key, currentWindow), c.key(key, previousWindow)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read rate limit counters: %w", err)
	}

	curr, prev := 0, 0
	if len(values) == 2 {
		curr = parseRedisInt(values[0])
		prev = parseRedisInt(values[1])
	}
	return curr, prev, nil
}

func (c *redisCounter) key(key string, window time.Time) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, key, window.Unix())
}

func parseRedisInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}
