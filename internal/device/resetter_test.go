package device

import (
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

func TestResetter(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewResetter(clock, time.Second)

	assert.False(t, r.Tick(), "nothing requested")
	select {
	case <-r.Done():
		t.Fatal("done closed without a request")
	default:
	}

	r.RequestReset()
	r.RequestReset()
	assert.True(t, r.Tick())
	assert.False(t, r.Tick(), "request is consumed")

	select {
	case <-r.Done():
	default:
		t.Fatal("done not closed after reset")
	}
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
	assert.Len(t, lines, 1)

	r.RequestReset()
	assert.False(t, r.Tick(), "reset happens once")
}
