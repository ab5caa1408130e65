package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware prints request/response metrics.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if len(c.Errors) > 0 {
			log.Errorw("http request failed", "method", c.Request.Method, "path", c.FullPath(), "error", c.Errors.String())
		}
		log.Infow("http request",
			"method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(),
			"elapsed", time.Since(start), "user_id", c.GetHeader(headerUserID))
	}
}

// RateLimitStore decides whether a request identified by key may proceed.
type RateLimitStore interface {
	Allow(key string) bool
}

// MemoryStore keeps one token bucket per key in process memory. It is owned by the router
// that created it; tests reset it between cases.
type MemoryStore struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func NewMemoryStore(rps, burst int) *MemoryStore {
	return &MemoryStore{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*rate.Limiter)}
}

func (s *MemoryStore) Allow(key string) bool {
	s.mu.Lock()
	lim, ok := s.buckets[key]
	if !ok {
		lim = rate.NewLimiter(s.rps, s.burst)
		s.buckets[key] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// Reset drops every bucket.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	s.buckets = make(map[string]*rate.Limiter)
	s.mu.Unlock()
}

// RateLimitMiddleware token bucket per client IP.
func RateLimitMiddleware(store RateLimitStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			ip = c.Request.RemoteAddr
		}
		if !store.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
