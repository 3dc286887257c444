package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/telecomverify/telecom/internal/httputil"
)

// RateLimiter is an in-memory per-IP sliding window rate limiter.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	visitors map[string][]time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows limit requests per window per client IP. It starts
// a background goroutine that evicts idle clients; call Stop to end it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		visitors: make(map[string][]time.Time),
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow records a request from ip if it is within the limit. It returns the
// remaining budget and when the window resets.
func (rl *RateLimiter) Allow(ip string) (allowed bool, remaining int, resetTime time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := prune(rl.visitors[ip], now.Add(-rl.window))

	if len(hits) >= rl.limit {
		rl.visitors[ip] = hits
		return false, 0, hits[0].Add(rl.window)
	}

	hits = append(hits, now)
	rl.visitors[ip] = hits
	return true, rl.limit - len(hits), now.Add(rl.window)
}

// Middleware rate-limits by client IP and sets X-RateLimit-* headers.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetTime := rl.Allow(clientIP(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			retryAfter := max(int(resetTime.Sub(rl.now()).Seconds())+1, 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// prune drops timestamps at or before cutoff, in place.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	valid := hits[:0]
	for _, ts := range hits {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	return valid
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.window)
			for ip, hits := range rl.visitors {
				if hits = prune(hits, cutoff); len(hits) == 0 {
					delete(rl.visitors, ip)
				} else {
					rl.visitors[ip] = hits
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// clientIP trusts X-Forwarded-For and X-Real-IP only when the direct peer
// is a private or loopback address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if isPrivateIP(host) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(ip)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	return host
}

func isPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate()
}
