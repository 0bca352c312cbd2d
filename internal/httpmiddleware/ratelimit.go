package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIPKey charges requests to the client address. The reader query
// parameter is chosen by the caller and never selects the bucket.
func ClientIPKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "unknown"
}

// TokenBucket is an in-memory per-key rate limiter. Buckets idle for a full
// refill period are evicted lazily.
type TokenBucket struct {
	capacity float64
	perSec   float64
	now      func() time.Time

	mu     sync.Mutex
	state  map[string]*bucket
	lastGC time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter with capacity tokens refilled at perMinute.
// A non-positive perMinute disables limiting.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Middleware returns a gin handler enforcing limits per key. Rejected requests
// get 429 with a plain body so simple readers can log it.
func (l *TokenBucket) Middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}
	return func(c *gin.Context) {
		if !l.Allow(key(c)) {
			c.Header("Retry-After", "1")
			c.AbortWithStatus(http.StatusTooManyRequests)
			c.Writer.WriteString("RATE_LIMITED")
			return
		}
		c.Next()
	}
}

// Allow charges one token to key.
func (l *TokenBucket) Allow(key string) bool {
	if l.perSec <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.gc(now)
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.perSec
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *TokenBucket) gc(now time.Time) {
	idle := time.Duration(l.capacity/l.perSec*float64(time.Second)) + time.Second
	if now.Sub(l.lastGC) < idle {
		return
	}
	l.lastGC = now
	for k, b := range l.state {
		if now.Sub(b.last) > idle {
			delete(l.state, k)
		}
	}
}
