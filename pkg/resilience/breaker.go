// Package resilience provides per-host circuit breakers and politeness
// limiters for outbound HTTP.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // reject calls
	StateHalfOpen              // allow probe calls
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerOpts trips after five straight failures and probes again
// after thirty seconds.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

func (o BreakerOpts) withDefaults() BreakerOpts {
	if o.FailThreshold <= 0 {
		o.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultBreakerOpts.Timeout
	}
	if o.HalfOpenMax <= 0 {
		o.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return o
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	return &Breaker{opts: opts.withDefaults(), now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState moves open to half-open once the timeout elapsed. Must hold mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenCount = 0
	}
	return b.state
}

// Call executes f through the circuit breaker. Only errors for which
// counts returns true are recorded as failures; a nil counts records all.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error, counts func(error) bool) error {
	b.mu.Lock()
	switch b.currentState() {
	case StateOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && (counts == nil || counts(err)) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
		return err
	}

	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
	b.failures = 0
	return err
}

// BreakerSet lazily keeps one Breaker per host.
type BreakerSet struct {
	mu       sync.Mutex
	opts     BreakerOpts
	breakers map[string]*Breaker
	now      func() time.Time
}

// NewBreakerSet creates an empty per-host breaker set.
func NewBreakerSet(opts BreakerOpts) *BreakerSet {
	return &BreakerSet{opts: opts.withDefaults(), breakers: make(map[string]*Breaker), now: time.Now}
}

// For returns the breaker for host, creating it on first use.
func (s *BreakerSet) For(host string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[host]
	if !ok {
		b = NewBreaker(s.opts)
		b.now = s.now
		s.breakers[host] = b
	}
	return b
}

// States snapshots the state of every known host.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	hosts := make(map[string]*Breaker, len(s.breakers))
	for h, b := range s.breakers {
		hosts[h] = b
	}
	s.mu.Unlock()

	out := make(map[string]State, len(hosts))
	for h, b := range hosts {
		out[h] = b.State()
	}
	return out
}
