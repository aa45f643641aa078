// Package ratelimit holds a per-client token bucket used to throttle the
// public endpoints. Expensive mutating routes get a strict budget, read
// routes a soft one.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/clipbin/clipbin/internal/httputil"
)

const (
	bucketIdleTTL  = 10 * time.Minute
	janitorPeriod  = 5 * time.Minute
	retryAfterHint = "10"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter refills perMinute tokens per minute for each client key, capped
// at burst. A request costs one token; an empty bucket means 429.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perMinute float64
	burst     float64
	now       func() time.Time
}

func New(perMinute float64, burst int) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*bucket),
		perMinute: perMinute,
		burst:     float64(burst),
		now:       time.Now,
	}
	go l.janitor()
	return l
}

// Strict is the budget for upload, edit, preview and delete.
func Strict() *Limiter { return New(10, 10) }

// Soft is the budget for listing and fetching.
func Soft() *Limiter { return New(60, 60) }

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, lastSeen: now}
		return true
	}

	elapsed := now.Sub(b.lastSeen).Minutes()
	b.lastSeen = now
	b.tokens += elapsed * l.perMinute
	if b.tokens > l.burst {
		b.tokens = l.burst
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) janitor() {
	for {
		time.Sleep(janitorPeriod)
		l.mu.Lock()
		now := l.now()
		for key, b := range l.buckets {
			if now.Sub(b.lastSeen) > bucketIdleTTL {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware rejects over-budget clients with 429 before the handler runs.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			w.Header().Set("Retry-After", retryAfterHint)
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the requester. Behind a proxy the first
// X-Forwarded-For hop is the client; otherwise the socket address is used
// as-is, port included, which is fine for bucketing.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			forwarded = forwarded[:i]
		}
		return strings.TrimSpace(forwarded)
	}
	return r.RemoteAddr
}
