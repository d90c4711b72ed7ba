package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/exchange-core/internal/metrics"
)

const ClientIDHeader = "X-Client-ID"

// RateLimiter allows one request per client every limit. Clients identify
// themselves with the X-Client-ID header.
type RateLimiter struct {
	clients map[string]time.Time
	mu      sync.Mutex
	limit   time.Duration
	now     func() time.Time
}

func NewRateLimiter(limit time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]time.Time),
		limit:   limit,
		now:     time.Now,
	}
}

// Allow records a request from clientID and reports whether it is within the limit.
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if last, ok := r.clients[clientID]; ok && now.Sub(last) < r.limit {
		return false
	}
	r.clients[clientID] = now
	return true
}

// Prune forgets clients idle for longer than the limit.
func (r *RateLimiter) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for id, last := range r.clients {
		if now.Sub(last) >= r.limit {
			delete(r.clients, id)
			n++
		}
	}
	return n
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader(ClientIDHeader)
		if clientID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ClientIDHeader + " header required"})
			return
		}
		if !r.Allow(clientID) {
			metrics.RateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
