// Package device implements the device reset facility. A reset request is a
// flag consumed on the next Tick; the daemon then exits so the service
// manager restarts it.
package device

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

// DefaultSettle gives the command channel time to flush before exiting.
const DefaultSettle = 500 * time.Millisecond

type Resetter struct {
	clock     timeutil.Clock
	settle    time.Duration
	requested atomic.Bool
	done      chan struct{}
	once      sync.Once
}

func NewResetter(clock timeutil.Clock, settle time.Duration) *Resetter {
	return &Resetter{
		clock:  clock,
		settle: settle,
		done:   make(chan struct{}),
	}
}

// RequestReset is safe to call from any goroutine.
func (r *Resetter) RequestReset() {
	r.requested.Store(true)
}

// Tick performs a requested reset: it logs, waits the settle time and closes
// Done. It reports whether a reset was performed.
func (r *Resetter) Tick() bool {
	if !r.requested.Swap(false) {
		return false
	}
	performed := false
	r.once.Do(func() {
		monitoring.Logf("Device reset requested, restarting")
		r.clock.Sleep(r.settle)
		close(r.done)
		performed = true
	})
	return performed
}

// Done is closed once a reset has been performed.
func (r *Resetter) Done() <-chan struct{} {
	return r.done
}
