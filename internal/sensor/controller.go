// Package sensor fuses the radar occupancy average with PIR motion into the
// periodic occupancy report.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
	"github.com/banshee-data/occupancy.sensor/internal/occupancy"
	"github.com/banshee-data/occupancy.sensor/internal/report"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

// DefaultReportInterval is the period between reports.
const DefaultReportInterval = 60 * time.Second

// CountSource supplies the radar occupancy average.
type CountSource interface {
	CurrentAverage() occupancy.Count
}

// MotionSource supplies the PIR motion predicate.
type MotionSource interface {
	MotionDetected() bool
}

type ControllerConfig struct {
	SensorID       string
	ReportInterval time.Duration
}

// Controller emits one report per ReportInterval.
type Controller struct {
	cfg    ControllerConfig
	clock  timeutil.Clock
	counts CountSource
	motion MotionSource
	sink   report.Sink

	mu         sync.Mutex
	lastReport time.Time
	last       report.Report
	sent       bool
}

// NewController creates a controller. motion may be nil when no PIR is
// fitted. The first report is due one interval after construction.
func NewController(cfg ControllerConfig, counts CountSource, motion MotionSource, sink report.Sink, clock timeutil.Clock) *Controller {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	return &Controller{
		cfg:        cfg,
		clock:      clock,
		counts:     counts,
		motion:     motion,
		sink:       sink,
		lastReport: clock.Now(),
	}
}

// Estimate builds a report from the current inputs without sending it.
func (c *Controller) Estimate() report.Report {
	count := c.counts.CurrentAverage()
	motion := c.motion != nil && c.motion.MotionDetected()

	occupants := int16(max(count, 0))
	if occupants == 0 && motion {
		occupants = 1
	}
	return report.Report{
		SensorID:   c.cfg.SensorID,
		Occupants:  occupants,
		RadarCount: int16(count),
		Motion:     motion,
		Time:       c.clock.Now(),
	}
}

// Tick sends a report when one is due. It reports whether a report was
// produced. A failed send is logged and not retried until the next interval.
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.clock.Since(c.lastReport) < c.cfg.ReportInterval {
		c.mu.Unlock()
		return false, nil
	}
	c.lastReport = c.clock.Now()
	c.mu.Unlock()

	r := c.Estimate()

	c.mu.Lock()
	c.last = r
	c.sent = true
	c.mu.Unlock()

	if err := c.sink.Send(ctx, r); err != nil {
		monitoring.Logf("Failed to send report: %v", err)
		return true, err
	}
	return true, nil
}

// Last returns the most recent report produced by Tick.
func (c *Controller) Last() (report.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.sent
}

// Run calls Tick every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.Tick(ctx)
		}
	}
}
