// Package report defines the periodic occupancy report and the sinks it is
// delivered to.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
)

// Report is one occupancy estimate for a sensor. RadarCount is -1 when the
// radar count was unavailable.
type Report struct {
	SensorID   string    `json:"sensor_id"`
	Occupants  int16     `json:"occupants"`
	RadarCount int16     `json:"radar_raw_count"`
	Motion     bool      `json:"motion"`
	Time       time.Time `json:"time"`
}

// Sink receives reports.
type Sink interface {
	Send(ctx context.Context, r Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Report) error

func (f SinkFunc) Send(ctx context.Context, r Report) error { return f(ctx, r) }

// LogSink writes each report to the package logger.
type LogSink struct{}

func (LogSink) Send(_ context.Context, r Report) error {
	monitoring.Logf("report %s: occupants=%d radar=%d motion=%t", r.SensorID, r.Occupants, r.RadarCount, r.Motion)
	return nil
}

// Fanout delivers a report to every sink, continuing past failures. The
// returned error joins all sink errors.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, r Report) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
