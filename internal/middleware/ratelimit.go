package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mwork/credits-api/internal/pkg/response"
)

const (
	visitorIdleTTL       = 3 * time.Minute
	visitorSweepInterval = time.Minute
)

// KeyedRateLimiter keeps one token bucket per caller key.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter creates a limiter allowing rps requests per second with
// the given burst for every key. Call Stop to end the idle sweeper.
func NewKeyedRateLimiter(rps float64, burst int) *KeyedRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &KeyedRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether the caller identified by key may proceed.
func (l *KeyedRateLimiter) Allow(key string) bool {
	return l.limiter(key).AllowN(l.now(), 1)
}

func (l *KeyedRateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

func (l *KeyedRateLimiter) sweep() {
	ticker := time.NewTicker(visitorSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stopCh:
			return
		}
	}
}

func (l *KeyedRateLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-visitorIdleTTL)
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

// Stop ends the background sweeper.
func (l *KeyedRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// RateLimit throttles per authenticated user, falling back to the client IP
// for anonymous requests.
func RateLimit(l *KeyedRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + getClientIP(r)
			if userID := GetUserID(r.Context()); userID != uuid.Nil {
				key = "user:" + userID.String()
			}

			if !l.Allow(key) {
				w.Header().Set("Retry-After", "1")
				response.TooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
