// Package occupancy keeps a short history of radar person counts and turns it
// into a staleness-aware moving average.
package occupancy

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

const (
	// DefaultCapacity is the number of samples averaged for the TLV radar.
	DefaultCapacity = 800
	// LegacyCapacity is the number of samples averaged for the MicRadar.
	LegacyCapacity = 256
	// DefaultValidity is how long the last sample keeps the average valid.
	DefaultValidity = 5 * time.Second
)

// Count is a person count or Unavailable.
type Count int16

// Unavailable is returned when no sample was recorded or the last sample is
// older than the validity window. It is distinct from a count of zero.
const Unavailable Count = -1

// Available reports whether c holds a real count.
func (c Count) Available() bool { return c >= 0 }

// History is a fixed-capacity ring of person counts with a running sum.
// The zero value is not usable; construct with NewHistory.
type History struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	validity   time.Duration
	slots      []uint8
	cursor     int
	sum        uint32
	lastUpdate time.Time
	written    bool
}

// NewHistory creates a History with the given capacity and validity window.
// A nil clock uses the real clock.
func NewHistory(capacity int, validity time.Duration, clock timeutil.Clock) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &History{
		clock:    clock,
		validity: validity,
		slots:    make([]uint8, capacity),
	}
}

// Record stores a count, saturating at 255, and stamps the update time.
func (h *History) Record(count uint32) {
	if count > math.MaxUint8 {
		count = math.MaxUint8
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum -= uint32(h.slots[h.cursor])
	h.slots[h.cursor] = uint8(count)
	h.sum += count
	h.cursor = (h.cursor + 1) % len(h.slots)
	h.lastUpdate = now
	h.written = true
}

// CurrentAverage returns the rounded mean over all slots, or Unavailable if
// nothing was recorded yet or the last record is older than the validity window.
// Slots not yet written count as zero.
func (h *History) CurrentAverage() Count {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.written || now.Sub(h.lastUpdate) > h.validity {
		return Unavailable
	}
	return Count(math.Round(float64(h.sum) / float64(len(h.slots))))
}

// LastUpdate returns the time of the last Record and whether one happened.
func (h *History) LastUpdate() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUpdate, h.written
}

// Validity returns the staleness window.
func (h *History) Validity() time.Duration { return h.validity }

// Capacity returns the number of slots.
func (h *History) Capacity() int { return len(h.slots) }

// Sum returns the running sum.
func (h *History) Sum() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Snapshot returns a copy of the ring contents in slot order.
func (h *History) Snapshot() []uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint8, len(h.slots))
	copy(out, h.slots)
	return out
}
