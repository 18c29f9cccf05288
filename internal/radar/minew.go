package radar

import (
	"encoding/binary"
	"fmt"
)

const (
	// DefaultBufferSize holds the largest frame the TLV radar emits.
	DefaultBufferSize = 8192
	// MaxATResponseLength bounds an "AT+..." response including its newline.
	MaxATResponseLength = 16

	leaderFrame      = 0x01
	leaderAT         = 'A'
	leaderStudy      = 0x55
	leaderSaveFailed = 'S'

	studyCodeLen = 6
)

const saveFailedText = "Save Para Failed\n"

// MinewDecoder decodes the TLV radar's serial stream: binary frames, AT
// responses, calibration results and the save failure string.
type MinewDecoder struct {
	buf []byte
}

// NewMinewDecoder returns a decoder with an accumulator of the given capacity.
// A capacity of 0 uses DefaultBufferSize.
func NewMinewDecoder(capacity int) *MinewDecoder {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &MinewDecoder{buf: make([]byte, 0, capacity)}
}

func (d *MinewDecoder) Name() string { return "Minew" }
func (d *MinewDecoder) Len() int     { return len(d.buf) }
func (d *MinewDecoder) Cap() int     { return cap(d.buf) }
func (d *MinewDecoder) Reset()       { d.buf = d.buf[:0] }

func isMinewLeader(b byte) bool {
	switch b {
	case leaderFrame, leaderAT, leaderStudy, leaderSaveFailed:
		return true
	}
	return false
}

// Feed consumes one byte.
func (d *MinewDecoder) Feed(b byte) (Event, error) {
	if len(d.buf) == 0 {
		if isMinewLeader(b) {
			d.buf = append(d.buf, b)
		}
		return nil, nil
	}
	if len(d.buf) >= cap(d.buf) {
		d.Reset()
		return nil, fmt.Errorf("%w (%d bytes)", ErrBufferOverflow, cap(d.buf))
	}
	d.buf = append(d.buf, b)

	switch d.buf[0] {
	case leaderFrame:
		return d.feedFrame(b)
	case leaderAT:
		return d.feedAT(b)
	case leaderStudy:
		return d.feedStudy(b)
	case leaderSaveFailed:
		return d.feedSaveFailed(b)
	}
	d.Reset()
	return nil, ErrDesync
}

func (d *MinewDecoder) fail(err error) (Event, error) {
	d.Reset()
	return nil, err
}

func (d *MinewDecoder) emit(ev Event) (Event, error) {
	d.Reset()
	return ev, nil
}

func (d *MinewDecoder) feedFrame(b byte) (Event, error) {
	n := len(d.buf)
	if n <= markerLen && b != byte(n) {
		return d.fail(fmt.Errorf("%w: frame marker byte %d is 0x%02x", ErrDesync, n-1, b))
	}
	if n < headerLen {
		return nil, nil
	}

	want := uint64(binary.LittleEndian.Uint32(d.buf[lengthOffset:])) + 1
	switch {
	case want > uint64(cap(d.buf)):
		return d.fail(fmt.Errorf("%w: %d bytes, buffer holds %d", ErrFrameLength, want, cap(d.buf)))
	case uint64(n) == want:
		frame, err := ParseFrame(d.buf)
		if err != nil {
			return d.fail(err)
		}
		return d.emit(FrameEvent{Frame: frame})
	case uint64(n) > want:
		return d.fail(fmt.Errorf("%w: have %d bytes, declared %d", ErrFrameOverrun, n, want))
	}
	return nil, nil
}

func (d *MinewDecoder) feedAT(b byte) (Event, error) {
	n := len(d.buf)
	switch {
	case n == 2 && b != 'T', n == 3 && b != '+':
		return d.fail(ErrDesync)
	case b == '\n':
		return d.emit(ATResponseEvent{Text: string(d.buf)})
	case n >= MaxATResponseLength:
		return d.fail(fmt.Errorf("%w: %q", ErrATTooLong, d.buf))
	}
	return nil, nil
}

func (d *MinewDecoder) feedStudy(b byte) (Event, error) {
	n := len(d.buf)
	if n == 2 && b != 0xAA {
		return d.fail(ErrDesync)
	}
	if n < studyCodeLen {
		return nil, nil
	}
	var code [studyCodeLen]byte
	copy(code[:], d.buf)
	return d.emit(StudyResultEvent{Outcome: ClassifyStudyCode(code), Code: code})
}

func (d *MinewDecoder) feedSaveFailed(b byte) (Event, error) {
	n := len(d.buf)
	if b != saveFailedText[n-1] {
		return d.fail(ErrDesync)
	}
	if n == len(saveFailedText) {
		return d.emit(SaveFailedEvent{})
	}
	return nil, nil
}
