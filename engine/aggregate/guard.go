package aggregate

import (
	"errors"
	"sync/atomic"
)

// ErrRunInProgress is returned when a run is requested while another run of
// the same feed is still in flight.
var ErrRunInProgress = errors.New("run in progress")

// Guard admits at most one holder at a time. The zero value is unlocked.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the guard, reporting false if it is already held.
func (g *Guard) TryAcquire() bool { return g.busy.CompareAndSwap(false, true) }

// Release frees the guard.
func (g *Guard) Release() { g.busy.Store(false) }

// Busy reports whether the guard is held.
func (g *Guard) Busy() bool { return g.busy.Load() }
