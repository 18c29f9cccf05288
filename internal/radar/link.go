package radar

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
)

// DefaultEventBuffer is the number of decoded events a Link holds for the
// mainline before dropping.
const DefaultEventBuffer = 64

// Link feeds serial chunks through a Decoder and hands decoded events to the
// mainline loop on a bounded channel. Feed never blocks: when the channel is
// full the event is dropped and logged.
type Link struct {
	mu      sync.Mutex
	decoder Decoder
	events  chan Event

	frames  atomic.Uint64
	errs    atomic.Uint64
	dropped atomic.Uint64
}

// LinkStats counts what a Link has seen since it was created.
type LinkStats struct {
	Radar    string `json:"radar"`
	Frames   uint64 `json:"frames"`
	Errors   uint64 `json:"errors"`
	Dropped  uint64 `json:"dropped"`
	Buffered int    `json:"buffered"`
}

// NewLink returns a Link around d. buffer <= 0 uses DefaultEventBuffer.
func NewLink(d Decoder, buffer int) *Link {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Link{decoder: d, events: make(chan Event, buffer)}
}

// Events returns the channel decoded events are delivered on.
func (l *Link) Events() <-chan Event { return l.events }

// Name returns the decoder's radar model.
func (l *Link) Name() string { return l.decoder.Name() }

// Feed decodes a chunk of serial bytes.
func (l *Link) Feed(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	FeedAll(l.decoder, p, l.deliver, l.report)
}

// Write implements io.Writer so a Link can sit behind an io.Copy or tee.
func (l *Link) Write(p []byte) (int, error) {
	l.Feed(p)
	return len(p), nil
}

func (l *Link) deliver(ev Event) {
	if _, ok := ev.(FrameEvent); ok {
		l.frames.Add(1)
	}
	select {
	case l.events <- ev:
	default:
		l.dropped.Add(1)
		monitoring.Logf("Radar event queue full, dropping %T", ev)
	}
}

func (l *Link) report(err error) {
	l.errs.Add(1)
	if errors.Is(err, ErrDesync) {
		return
	}
	monitoring.Logf("Radar protocol error: %v", err)
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	buffered := l.decoder.Len()
	l.mu.Unlock()
	return LinkStats{
		Radar:    l.decoder.Name(),
		Frames:   l.frames.Load(),
		Errors:   l.errs.Load(),
		Dropped:  l.dropped.Load(),
		Buffered: buffered,
	}
}
