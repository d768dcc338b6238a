package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AddressLimiter throttles requests per client address.
type AddressLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	now      func() time.Time
}

// NewAddressLimiter returns a limiter allowing rps requests per second per
// address with the given burst.
func NewAddressLimiter(rps float64, burst int) *AddressLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &AddressLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether address may make another request now.
func (l *AddressLimiter) Allow(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for addr, v := range l.visitors {
		if now.Sub(v.lastSeen) > limiterIdleTTL {
			delete(l.visitors, addr)
		}
	}

	v, ok := l.visitors[address]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[address] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects requests over the per-address budget. A
// non-positive rps disables throttling.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewAddressLimiter(rps, burst)

	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "TooManyRequests", "message": "Slow down"})
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs one line per request. The route template is logged
// instead of the raw path so keys in the URL stay out of the logs.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		args := []any{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error(c.Request.Context(), "request failed", args...)
			return
		}
		logger.Info(c.Request.Context(), "request", args...)
	}
}
