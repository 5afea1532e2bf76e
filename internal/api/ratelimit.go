package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the IP-based rate limiter
type RateLimitConfig struct {
	RequestsPerSecond float64       // Requests allowed per second per IP
	Burst             int           // Maximum burst size
	CleanupInterval   time.Duration // How often to clean up stale limiters
}

// DefaultRateLimitConfig allows a decoder to stream batches quickly while
// keeping a single client from flooding the server.
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 50,
	Burst:             100,
	CleanupInterval:   5 * time.Minute,
}

// IntakeConfig configures the per-session mutation budget.
type IntakeConfig struct {
	MutationsPerSecond float64       // Sustained mutations per second per session
	Burst              int           // Mutations a session may send at once
	CleanupInterval    time.Duration // How often to forget idle sessions
}

// DefaultIntakeConfig lets a decoder push a whole replay in a couple of
// batches, then throttles a session that keeps streaming.
var DefaultIntakeConfig = IntakeConfig{
	MutationsPerSecond: 20_000,
	Burst:              100_000,
	CleanupInterval:    5 * time.Minute,
}

// limiterEntry is one token bucket and when its key was last seen.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// limiterSet holds a token bucket per key and forgets keys that go idle
// for two cleanup intervals.
type limiterSet struct {
	limiters sync.Map // map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func newLimiterSet(limit rate.Limit, burst int, interval time.Duration) *limiterSet {
	if interval <= 0 {
		interval = DefaultRateLimitConfig.CleanupInterval
	}
	ls := &limiterSet{
		limit:    limit,
		burst:    burst,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go ls.cleanupLoop()

	return ls
}

// Stop stops the cleanup goroutine
func (ls *limiterSet) Stop() {
	ls.stopOnce.Do(func() {
		close(ls.stopChan)
	})
}

// get returns or creates the limiter for key
func (ls *limiterSet) get(key string) *rate.Limiter {
	now := ls.now().UnixNano()

	if entry, ok := ls.limiters.Load(key); ok {
		e := entry.(*limiterEntry)
		e.lastSeen.Store(now)
		return e.limiter
	}

	entry := &limiterEntry{limiter: rate.NewLimiter(ls.limit, ls.burst)}
	entry.lastSeen.Store(now)

	actual, _ := ls.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry).limiter
}

// Forget drops the limiter for key.
func (ls *limiterSet) Forget(key string) {
	ls.limiters.Delete(key)
}

func (ls *limiterSet) cleanupLoop() {
	ticker := time.NewTicker(ls.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ls.stopChan:
			return
		case <-ticker.C:
			ls.cleanup()
		}
	}
}

// cleanup removes limiters that haven't been used recently
func (ls *limiterSet) cleanup() int {
	cutoff := ls.now().Add(-ls.interval * 2).UnixNano()
	removed := 0

	ls.limiters.Range(func(key, value interface{}) bool {
		if value.(*limiterEntry).lastSeen.Load() < cutoff {
			ls.limiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// IPRateLimiter provides IP-based rate limiting for HTTP requests
type IPRateLimiter struct {
	*limiterSet

	rejectedCount atomic.Uint64
	allowedCount  atomic.Uint64
}

// NewIPRateLimiter creates a new IP-based rate limiter and starts its
// cleanup goroutine. Call Stop to release it.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	return &IPRateLimiter{
		limiterSet: newLimiterSet(rate.Limit(cfg.RequestsPerSecond), cfg.Burst, cfg.CleanupInterval),
	}
}

// Allow checks if a request from the given IP should be allowed
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.get(ip).Allow() {
		rl.allowedCount.Add(1)
		return true
	}
	rl.rejectedCount.Add(1)
	return false
}

// Middleware returns an HTTP middleware for rate limiting
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns rate limiter statistics
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  rl.allowedCount.Load(),
		"rejected": rl.rejectedCount.Load(),
	}
}

// IntakeLimiter meters mutations per session. Every session draws on its
// own budget, so one busy decoder cannot starve the intake of another.
type IntakeLimiter struct {
	*limiterSet

	rejectedCount atomic.Uint64
}

// NewIntakeLimiter creates a per-session mutation budget and starts its
// cleanup goroutine. Call Stop to release it.
func NewIntakeLimiter(cfg IntakeConfig) *IntakeLimiter {
	return &IntakeLimiter{
		limiterSet: newLimiterSet(rate.Limit(cfg.MutationsPerSecond), cfg.Burst, cfg.CleanupInterval),
	}
}

// Reserve charges n mutations to session. When the budget cannot cover
// them nothing is charged and the wait until it can is returned.
func (il *IntakeLimiter) Reserve(session string, n int) (bool, time.Duration) {
	now := il.now()
	r := il.get(session).ReserveN(now, n)
	if !r.OK() {
		// More than the burst; never satisfiable.
		il.rejectedCount.Add(1)
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		il.rejectedCount.Add(1)
		return false, delay
	}
	return true, 0
}

// Rejected returns how many batches were refused.
func (il *IntakeLimiter) Rejected() uint64 {
	return il.rejectedCount.Load()
}

// retryAfter formats a wait as whole seconds for a Retry-After header.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// GetClientIP extracts the client IP from an HTTP request
// Handles X-Forwarded-For header for proxied requests
func GetClientIP(r *http.Request) string {
	// CAUTION: forwarded headers can be spoofed if not behind a trusted proxy
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter limits concurrent WebSocket connections per IP
type WebSocketRateLimiter struct {
	connections sync.Map // map[string]*atomic.Int32
	maxPerIP    int

	rejectedCount atomic.Uint64
}

// NewWebSocketRateLimiter creates a WebSocket connection limiter
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{maxPerIP: maxPerIP}
}

// Allow reserves a connection slot for ip if one is free.
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	actual, _ := wrl.connections.LoadOrStore(ip, new(atomic.Int32))
	counter := actual.(*atomic.Int32)

	for {
		current := counter.Load()
		if int(current) >= wrl.maxPerIP {
			wrl.rejectedCount.Add(1)
			return false
		}
		if counter.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release frees a slot reserved by Allow.
func (wrl *WebSocketRateLimiter) Release(ip string) {
	if val, ok := wrl.connections.Load(ip); ok {
		val.(*atomic.Int32).Add(-1)
	}
}

// GetConnectionCount returns current connection count for an IP
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	if val, ok := wrl.connections.Load(ip); ok {
		return int(val.(*atomic.Int32).Load())
	}
	return 0
}

// OriginPolicy decides which browser origins may open WebSockets. Patterns
// use the same syntax as the CORS configuration: a single "*" stands for a
// port or a subdomain label, e.g. "http://localhost:*" or
// "https://*.example.com".
type OriginPolicy struct {
	exact    map[string]struct{}
	patterns [][2]string // prefix, suffix
}

// NewOriginPolicy builds a policy from origin patterns.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{exact: make(map[string]struct{})}
	for _, o := range origins {
		if i := strings.Index(o, "*"); i >= 0 {
			p.patterns = append(p.patterns, [2]string{o[:i], o[i+1:]})
			continue
		}
		p.exact[o] = struct{}{}
	}
	return p
}

// IsAllowed reports whether origin may connect. Requests without an
// Origin header do not come from a browser and are allowed.
func (p *OriginPolicy) IsAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, pat := range p.patterns {
		prefix, suffix := pat[0], pat[1]
		if len(origin) <= len(prefix)+len(suffix) {
			continue
		}
		if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
			continue
		}
		middle := origin[len(prefix) : len(origin)-len(suffix)]
		if strings.HasSuffix(prefix, ":") {
			if isDigits(middle) {
				return true
			}
			continue
		}
		if !strings.ContainsAny(middle, "/:@") {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
