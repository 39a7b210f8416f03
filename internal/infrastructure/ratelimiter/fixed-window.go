package ratelimiter

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string) (bool, time.Duration)
	SourceKey(r *http.Request) string
}

// FixedWindowRateLimiter applies a FixedWindow per key, typically a client
// address. Idle keys are dropped periodically.
type FixedWindowRateLimiter struct {
	mu          sync.Mutex
	counts      map[string]*Window
	policy      *FixedWindow
	window      time.Duration
	headerKey   string
	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

func NewFixedWindowRateLimiter(limit int, window time.Duration, headerKey string, clock Clock) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		counts:      make(map[string]*Window),
		policy:      NewFixedWindow(limit, window, clock),
		window:      window,
		headerKey:   headerKey,
		cleanupTick: time.NewTicker(window),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.counts[key]
	if !ok {
		w = &Window{}
		rl.counts[key] = w
	}

	if rl.policy.Admit(w) {
		return true, 0
	}
	return false, rl.policy.RetryAfter(w)
}

// SourceKey identifies the caller by the first address in the configured
// header, falling back to the remote address without its port.
func (rl *FixedWindowRateLimiter) SourceKey(r *http.Request) string {
	if rl.headerKey != "" {
		if v := r.Header.Get(rl.headerKey); v != "" {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.counts {
		if rl.policy.RetryAfter(w) == 0 {
			delete(rl.counts, key)
		}
	}
}

func (rl *FixedWindowRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.counts)
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
