package radar

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary frame layout.
const (
	PointSize  = 25
	PersonSize = 32

	markerLen       = 8
	lengthOffset    = 8
	headerLen       = 12
	numberOffset    = 12
	pointsTagOffset = 16
	pointsLenOffset = 20
	pointsOffset    = 24

	tagPoints  = 1
	tagPersons = 2
)

// Point is one detection point reported by the radar.
type Point struct {
	X, Y, Z     float32
	Velocity    int8
	SNR         float32
	Power       float32
	DopplerPeak float32
}

// Person is one tracked target.
type Person struct {
	ID         uint32
	Quality    uint32
	X, Y, Z    float32
	VX, VY, VZ float32
}

// Frame is a validated radar frame. Point and person records are decoded on
// access from a private copy of the frame bytes.
type Frame struct {
	Number      uint32
	PointCount  uint32
	PersonCount uint32

	points  []byte
	persons []byte
}

// Points returns a view over the frame's point records.
func (f *Frame) Points() PointView { return PointView{b: f.points} }

// Persons returns a view over the frame's person records.
func (f *Frame) Persons() PersonView { return PersonView{b: f.persons} }

// PointView is a read-only sequence of packed 25 byte point records.
type PointView struct{ b []byte }

// Len returns the number of points.
func (v PointView) Len() int { return len(v.b) / PointSize }

// At decodes point i. It panics if i is out of range, like a slice index.
func (v PointView) At(i int) Point {
	r := v.b[i*PointSize : (i+1)*PointSize]
	// wire order is x, z, y
	return Point{
		X:           f32(r[0:]),
		Z:           f32(r[4:]),
		Y:           f32(r[8:]),
		Velocity:    int8(r[12]),
		SNR:         f32(r[13:]),
		Power:       f32(r[17:]),
		DopplerPeak: f32(r[21:]),
	}
}

// PersonView is a read-only sequence of packed 32 byte person records.
type PersonView struct{ b []byte }

// Len returns the number of persons.
func (v PersonView) Len() int { return len(v.b) / PersonSize }

// At decodes person i. It panics if i is out of range, like a slice index.
func (v PersonView) At(i int) Person {
	r := v.b[i*PersonSize : (i+1)*PersonSize]
	return Person{
		ID:      binary.LittleEndian.Uint32(r[0:]),
		Quality: binary.LittleEndian.Uint32(r[4:]),
		X:       f32(r[8:]),
		Z:       f32(r[12:]),
		Y:       f32(r[16:]),
		VX:      f32(r[20:]),
		VZ:      f32(r[24:]),
		VY:      f32(r[28:]),
	}
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// ParseFrame validates a complete binary frame (marker, length, frame number
// and the two TLV blocks) and returns it. buf is not retained.
func ParseFrame(buf []byte) (*Frame, error) {
	if len(buf) < pointsOffset+8 {
		return nil, fmt.Errorf("%w: frame of %d bytes cannot hold both TLV headers", ErrBlockLength, len(buf))
	}

	if tag := binary.LittleEndian.Uint32(buf[pointsTagOffset:]); tag != tagPoints {
		return nil, fmt.Errorf("%w: first tag %d, want %d", ErrInvalidTLV, tag, tagPoints)
	}
	pointsLen := uint64(binary.LittleEndian.Uint32(buf[pointsLenOffset:]))
	if pointsLen%PointSize != 0 {
		return nil, fmt.Errorf("%w: points block of %d bytes", ErrBlockLength, pointsLen)
	}
	endOfPoints := pointsOffset + pointsLen
	if endOfPoints+8 > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: points block of %d bytes overruns frame", ErrBlockLength, pointsLen)
	}

	if tag := binary.LittleEndian.Uint32(buf[endOfPoints:]); tag != tagPersons {
		return nil, fmt.Errorf("%w: second tag %d, want %d", ErrInvalidTLV, tag, tagPersons)
	}
	personsLen := uint64(binary.LittleEndian.Uint32(buf[endOfPoints+4:]))
	if personsLen%PersonSize != 0 {
		return nil, fmt.Errorf("%w: persons block of %d bytes", ErrBlockLength, personsLen)
	}
	personsStart := endOfPoints + 8
	if personsStart+personsLen > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: persons block of %d bytes overruns frame", ErrBlockLength, personsLen)
	}

	body := make([]byte, pointsLen+personsLen)
	copy(body, buf[pointsOffset:endOfPoints])
	copy(body[pointsLen:], buf[personsStart:personsStart+personsLen])

	return &Frame{
		Number:      binary.LittleEndian.Uint32(buf[numberOffset:]),
		PointCount:  uint32(pointsLen / PointSize),
		PersonCount: uint32(personsLen / PersonSize),
		points:      body[:pointsLen:pointsLen],
		persons:     body[pointsLen:],
	}, nil
}

// EncodeFrame builds a binary frame in the radar's wire format. The length
// field is set so the frame completes exactly at its last byte.
func EncodeFrame(number uint32, points []Point, persons []Person) []byte {
	pointsLen := len(points) * PointSize
	personsLen := len(persons) * PersonSize
	total := pointsOffset + pointsLen + 8 + personsLen

	buf := make([]byte, total)
	for i := 0; i < markerLen; i++ {
		buf[i] = byte(i + 1)
	}
	binary.LittleEndian.PutUint32(buf[lengthOffset:], uint32(total-1))
	binary.LittleEndian.PutUint32(buf[numberOffset:], number)
	binary.LittleEndian.PutUint32(buf[pointsTagOffset:], tagPoints)
	binary.LittleEndian.PutUint32(buf[pointsLenOffset:], uint32(pointsLen))

	off := pointsOffset
	for _, p := range points {
		putF32(buf[off:], p.X)
		putF32(buf[off+4:], p.Z)
		putF32(buf[off+8:], p.Y)
		buf[off+12] = byte(p.Velocity)
		putF32(buf[off+13:], p.SNR)
		putF32(buf[off+17:], p.Power)
		putF32(buf[off+21:], p.DopplerPeak)
		off += PointSize
	}

	binary.LittleEndian.PutUint32(buf[off:], tagPersons)
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(personsLen))
	off += 8
	for _, p := range persons {
		binary.LittleEndian.PutUint32(buf[off:], p.ID)
		binary.LittleEndian.PutUint32(buf[off+4:], p.Quality)
		putF32(buf[off+8:], p.X)
		putF32(buf[off+12:], p.Z)
		putF32(buf[off+16:], p.Y)
		putF32(buf[off+20:], p.VX)
		putF32(buf[off+24:], p.VZ)
		putF32(buf[off+28:], p.VY)
		off += PersonSize
	}
	return buf
}
