package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterOpts configures per-host politeness.
type LimiterOpts struct {
	// Interval is the minimum spacing between requests to one host.
	Interval time.Duration
	// Burst is how many requests may go out back to back.
	Burst int
}

// DefaultLimiterOpts spaces requests to one host by 200ms.
var DefaultLimiterOpts = LimiterOpts{Interval: 200 * time.Millisecond, Burst: 1}

// HostLimiter keeps one token bucket per host.
type HostLimiter struct {
	mu       sync.Mutex
	opts     LimiterOpts
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a per-host limiter. A zero Interval disables
// limiting.
func NewHostLimiter(opts LimiterOpts) *HostLimiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &HostLimiter{opts: opts, limiters: make(map[string]*rate.Limiter)}
}

func (h *HostLimiter) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		limit := rate.Inf
		if h.opts.Interval > 0 {
			limit = rate.Every(h.opts.Interval)
		}
		l = rate.NewLimiter(limit, h.opts.Burst)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until a request to host may proceed or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.limiter(host).Wait(ctx)
}

// Allow reports whether a request to host may proceed now, consuming a
// token if so.
func (h *HostLimiter) Allow(host string) bool {
	return h.limiter(host).Allow()
}
