package radar

import (
	"encoding/binary"
	"fmt"
)

// Legacy point-count radar framing:
//
//	0x53 0x59 | control (2, BE) | length (2, BE) | content | checksum | 0x54 0x43
//
// The checksum is the low byte of the sum of every byte before it.
const (
	MicRadarBufferSize = 256

	// MicRadarTrajectoryReport carries one 11 byte record per tracked target.
	MicRadarTrajectoryReport = 0x8202
	micRadarTrajectorySize   = 11

	micRadarHeaderLen  = 6
	micRadarTrailerLen = 3
)

var (
	micRadarHead = [2]byte{0x53, 0x59}
	micRadarTail = [2]byte{0x54, 0x43}
)

// MicRadarDecoder decodes the legacy radar's checksummed frames. Only
// trajectory reports produce events; they carry a count and no records.
type MicRadarDecoder struct {
	buf []byte
}

// NewMicRadarDecoder returns a decoder with a MicRadarBufferSize accumulator.
func NewMicRadarDecoder() *MicRadarDecoder {
	return &MicRadarDecoder{buf: make([]byte, 0, MicRadarBufferSize)}
}

func (d *MicRadarDecoder) Name() string { return "MicRadar" }
func (d *MicRadarDecoder) Len() int     { return len(d.buf) }
func (d *MicRadarDecoder) Cap() int     { return cap(d.buf) }
func (d *MicRadarDecoder) Reset()       { d.buf = d.buf[:0] }

// Feed consumes one byte.
func (d *MicRadarDecoder) Feed(b byte) (Event, error) {
	switch n := len(d.buf); {
	case n == 0 && b != micRadarHead[0]:
		return nil, nil
	case n == 1 && b != micRadarHead[1]:
		d.Reset()
		return nil, ErrDesync
	case n >= cap(d.buf):
		d.Reset()
		return nil, fmt.Errorf("%w (%d bytes)", ErrBufferOverflow, cap(d.buf))
	}
	d.buf = append(d.buf, b)

	n := len(d.buf)
	if n < micRadarHeaderLen {
		return nil, nil
	}
	contentLen := int(binary.BigEndian.Uint16(d.buf[4:]))
	total := micRadarHeaderLen + contentLen + micRadarTrailerLen
	if total > cap(d.buf) {
		d.Reset()
		return nil, fmt.Errorf("%w: %d bytes, buffer holds %d", ErrFrameLength, total, cap(d.buf))
	}
	if n < total {
		return nil, nil
	}

	defer d.Reset()
	if d.buf[n-2] != micRadarTail[0] || d.buf[n-1] != micRadarTail[1] {
		return nil, fmt.Errorf("%w: missing trailer", ErrDesync)
	}
	var sum byte
	for _, c := range d.buf[:n-micRadarTrailerLen] {
		sum += c
	}
	if sum != d.buf[n-micRadarTrailerLen] {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksum, d.buf[n-micRadarTrailerLen], sum)
	}

	control := binary.BigEndian.Uint16(d.buf[2:])
	if control != MicRadarTrajectoryReport {
		return nil, fmt.Errorf("%w: control word 0x%04x", ErrUnsupportedMessage, control)
	}
	return FrameEvent{Frame: &Frame{
		PersonCount: uint32(contentLen / micRadarTrajectorySize),
	}}, nil
}

// EncodeMicRadarTrajectory builds a trajectory report for n targets with
// zeroed records.
func EncodeMicRadarTrajectory(n int) []byte {
	return EncodeMicRadar(MicRadarTrajectoryReport, make([]byte, n*micRadarTrajectorySize))
}

// EncodeMicRadar builds a legacy frame with the given control word and content.
func EncodeMicRadar(control uint16, content []byte) []byte {
	buf := make([]byte, 0, micRadarHeaderLen+len(content)+micRadarTrailerLen)
	buf = append(buf, micRadarHead[:]...)
	buf = binary.BigEndian.AppendUint16(buf, control)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(content)))
	buf = append(buf, content...)
	var sum byte
	for _, c := range buf {
		sum += c
	}
	buf = append(buf, sum)
	return append(buf, micRadarTail[:]...)
}
