package occupancy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sumOf(slots []uint8) uint32 {
	var s uint32
	for _, v := range slots {
		s += uint32(v)
	}
	return s
}

func TestHistory_UnavailableBeforeFirstWrite(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	h := NewHistory(4, time.Second, clock)

	assert.Equal(t, Unavailable, h.CurrentAverage())
	assert.False(t, h.CurrentAverage().Available())
	_, ok := h.LastUpdate()
	assert.False(t, ok)
}

func TestHistory_Average(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	h := NewHistory(4, time.Second, clock)

	tests := []struct {
		record uint32
		want   Count
	}{
		{2, 1}, // 2/4 rounds half up
		{2, 1}, // 4/4
		{0, 1}, // 4/4
		{1, 1}, // 5/4
		{3, 2}, // 6/4 after the first slot is overwritten
		{0, 1}, // 4/4
		{0, 1}, // 4/4
		{0, 1}, // 3/4
		{0, 0},
	}
	for i, tt := range tests {
		h.Record(tt.record)
		assert.Equal(t, tt.want, h.CurrentAverage(), "step %d", i)
	}
}

func TestHistory_Saturates(t *testing.T) {
	t.Parallel()
	h := NewHistory(1, time.Second, timeutil.NewMockClock(epoch))
	h.Record(1000)
	assert.Equal(t, Count(255), h.CurrentAverage())
	assert.Equal(t, uint32(255), h.Sum())
}

func TestHistory_RunningSumMatchesSlots(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	h := NewHistory(37, time.Second, clock)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 37*5+3; i++ {
		h.Record(uint32(rng.Intn(300)))
		require.Equal(t, sumOf(h.Snapshot()), h.Sum(), "after write %d", i)
	}
}

func TestHistory_Staleness(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	h := NewHistory(1, 5*time.Second, clock)
	h.Record(3)

	clock.Advance(5 * time.Second)
	assert.Equal(t, Count(3), h.CurrentAverage(), "exactly at threshold is still valid")

	clock.Advance(time.Microsecond)
	assert.Equal(t, Unavailable, h.CurrentAverage())

	h.Record(2)
	assert.Equal(t, Count(2), h.CurrentAverage())
	last, ok := h.LastUpdate()
	require.True(t, ok)
	assert.Equal(t, clock.Now(), last)
}

func TestNewHistory_Defaults(t *testing.T) {
	t.Parallel()
	h := NewHistory(0, 0, nil)
	assert.Equal(t, DefaultCapacity, h.Capacity())
	assert.Equal(t, DefaultValidity, h.Validity())
}
