package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"magnetcatalog/pkg/types"
)

// RateLimiterSettings configures token-bucket style rate limiting per host.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

// HostLimiter spaces requests to the same host by a fixed delay and an optional token bucket.
type HostLimiter struct {
	delay       time.Duration
	rate        RateLimiterSettings
	rateEnabled bool

	mu       sync.Mutex
	next     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter with per-host delay and optional rate limiting.
func NewHostLimiter(delay time.Duration, rateCfg RateLimiterSettings) *HostLimiter {
	limiter := &HostLimiter{delay: delay, next: make(map[string]time.Time)}
	if rateCfg.Requests > 0 && rateCfg.Window > 0 {
		limiter.rateEnabled = true
		limiter.rate = rateCfg
		limiter.limiters = make(map[string]*rate.Limiter)
	}
	return limiter
}

// Wait blocks until politeness constraints for the host are satisfied.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || host == "" {
		return nil
	}
	if h.delay <= 0 && !h.rateEnabled {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter
	now := time.Now()

	// Reserve the slot under the lock so concurrent callers queue instead of bunching.
	h.mu.Lock()
	if h.delay > 0 {
		slot := now
		if next, ok := h.next[host]; ok && next.After(now) {
			slot = next
		}
		sleep = slot.Sub(now)
		h.next[host] = slot.Add(h.delay)
	}
	if h.rateEnabled {
		limiter = h.ensureLimiterLocked(host)
	}
	h.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *HostLimiter) ensureLimiterLocked(host string) *rate.Limiter {
	limiter, ok := h.limiters[host]
	if ok {
		return limiter
	}
	interval := h.rate.Window / time.Duration(h.rate.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter = rate.NewLimiter(rate.Every(interval), h.rate.Requests)
	h.limiters[host] = limiter
	return limiter
}

// Limited wraps a Fetcher so every request first waits on the host limiter.
type Limited struct {
	next    Fetcher
	limiter *HostLimiter
}

// WithLimiter returns next unchanged when limiter is nil.
func WithLimiter(next Fetcher, limiter *HostLimiter) Fetcher {
	if limiter == nil {
		return next
	}
	return &Limited{next: next, limiter: limiter}
}

// Fetch waits for the host slot then delegates.
func (l *Limited) Fetch(ctx context.Context, req types.FetchRequest) (*types.Page, error) {
	if req.URL != nil {
		if err := l.limiter.Wait(ctx, req.URL.Hostname()); err != nil {
			return nil, err
		}
	}
	return l.next.Fetch(ctx, req)
}
