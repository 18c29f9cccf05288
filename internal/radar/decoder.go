// Package radar decodes the radar's serial byte stream, validates its frames
// and supervises the radar's reset, calibration and command sequencing.
package radar

// Decoder consumes the radar byte stream one byte at a time.
//
// Feed returns at most one event per byte. A non-nil error means the
// accumulated message was discarded; the decoder is already resynchronizing.
// An event and an error are never returned together.
type Decoder interface {
	Feed(b byte) (Event, error)
	// Reset discards any partially accumulated message.
	Reset()
	// Name identifies the radar model, e.g. in the channel banner.
	Name() string
	// Len returns the number of buffered bytes.
	Len() int
	// Cap returns the accumulator capacity.
	Cap() int
}

// FeedAll feeds every byte in p to d and calls emit for each event and onErr
// for each error, in stream order. Either callback may be nil.
func FeedAll(d Decoder, p []byte, emit func(Event), onErr func(error)) {
	for _, b := range p {
		ev, err := d.Feed(b)
		switch {
		case err != nil:
			if onErr != nil {
				onErr(err)
			}
		case ev != nil:
			if emit != nil {
				emit(ev)
			}
		}
	}
}
