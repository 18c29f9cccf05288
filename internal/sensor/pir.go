package sensor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

// DefaultMotionTimeout is how long a single PIR trigger counts as motion.
const DefaultMotionTimeout = 10 * time.Second

// DefaultPollInterval is the GPIO sampling period.
const DefaultPollInterval = time.Second

// PIR tracks the most recent motion observation from a passive infrared
// sensor.
type PIR struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	timeout time.Duration
	last    time.Time
	seen    bool
}

func NewPIR(clock timeutil.Clock, timeout time.Duration) *PIR {
	if timeout <= 0 {
		timeout = DefaultMotionTimeout
	}
	return &PIR{clock: clock, timeout: timeout}
}

// Observe records one sample. Only a high level counts as motion.
func (p *PIR) Observe(high bool) {
	if !high {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = p.clock.Now()
	p.seen = true
}

// MotionDetected reports whether motion was observed within the timeout.
func (p *PIR) MotionDetected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen && p.clock.Since(p.last) <= p.timeout
}

// LastMotion returns the time of the last observed motion.
func (p *PIR) LastMotion() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.seen
}

// ReadGPIO reads a sysfs GPIO value file ("0" or "1").
func ReadGPIO(path string) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	switch string(bytes.TrimSpace(b)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected gpio value %q in %s", b, path)
	}
}

// PollGPIO samples path every interval until ctx is done. Read failures are
// logged once per run of failures and sampling continues.
func (p *PIR) PollGPIO(ctx context.Context, path string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			high, err := ReadGPIO(path)
			if err != nil {
				if !failing {
					monitoring.Logf("PIR read failed: %v", err)
				}
				failing = true
				continue
			}
			failing = false
			p.Observe(high)
		}
	}
}
