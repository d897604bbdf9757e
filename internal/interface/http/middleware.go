package http

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/pagedigest/internal/infra/config"
)

// errorHandlingMiddleware renders the last error recorded on the context. Streams that already
// wrote headers report their errors as SSE frames instead.
func errorHandlingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		httpErr := asHTTPError(c.Errors.Last().Err)
		if httpErr.Message == "" {
			httpErr.Message = httpErr.Error()
		}
		logError(logger, c.Request.URL.Path, httpErr)
		c.JSON(httpErr.Status, httpErr.body())
	}
}

func logError(logger *slog.Logger, path string, httpErr *HTTPError) {
	attrs := []any{"code", httpErr.Code, "status", httpErr.Status, "path", path, "error", httpErr.Err}
	switch {
	case httpErr.expected():
		logger.Debug("request stopped", attrs...)
	case httpErr.Status >= http.StatusInternalServerError:
		logger.Error("request failed", attrs...)
	default:
		logger.Warn("request failed", attrs...)
	}
}

// rateLimitMiddleware applies a token bucket per caller. Authenticated callers are keyed by
// token subject, everyone else by client IP.
func rateLimitMiddleware(cfg config.RateLimitConfig, logger *slog.Logger) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := newCallerLimiter(cfg, time.Now)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if claims, ok := getClaims(c); ok && claims.Subject != "" {
			key = "sub:" + claims.Subject
		}
		wait, ok := limiter.allow(key)
		if ok {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		logger.Warn("rate limit exceeded", "caller", key, "path", c.Request.URL.Path)
		abortWithError(c, NewHTTPError(http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests", nil))
	}
}

type callerLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond float64
	burst     float64
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func newCallerLimiter(cfg config.RateLimitConfig, now func() time.Time) *callerLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &callerLimiter{
		buckets:   make(map[string]*bucket),
		perSecond: float64(cfg.RequestsPerMinute) / 60,
		burst:     float64(burst),
		idle:      5 * time.Minute,
		now:       now,
	}
}

// allow takes a token for key. When none is left it returns how long until the next one.
func (l *callerLimiter) allow(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastSeen: now}
		l.buckets[key] = b
	} else if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.perSecond)
		b.lastSeen = now
	}
	if now.Sub(l.lastSweep) > l.idle {
		l.sweepLocked(now)
	}
	if b.tokens < 1 {
		missing := 1 - b.tokens
		return time.Duration(missing / l.perSecond * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (l *callerLimiter) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
