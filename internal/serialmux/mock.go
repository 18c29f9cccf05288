package serialmux

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/radar"
)

var errPortClosed = errors.New("serial port closed")

// SyntheticRadarPort is a dev-mode stand-in for the radar. It emits a frame
// every interval and answers every newline terminated command with "AT+OK".
type SyntheticRadarPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	replies chan []byte
	done    chan struct{}
	once    sync.Once
}

// FrameGenerator builds the n-th synthetic frame.
type FrameGenerator func(n uint32) []byte

// MinewFrames produces TLV frames with a slowly wandering person count.
func MinewFrames(seed int64) FrameGenerator {
	rng := rand.New(rand.NewSource(seed))
	people := 1
	return func(n uint32) []byte {
		if rng.Intn(20) == 0 {
			people = max(0, min(6, people+rng.Intn(3)-1))
		}
		persons := make([]radar.Person, people)
		for i := range persons {
			persons[i] = radar.Person{
				ID:      uint32(i + 1),
				Quality: 80,
				X:       rng.Float32()*4 - 2,
				Y:       rng.Float32() * 5,
				Z:       1.2,
			}
		}
		points := []radar.Point{{X: 0.1, Y: 1, Z: 1, Velocity: 1, SNR: 15, Power: 30, DopplerPeak: 0.2}}
		return radar.EncodeFrame(n, points, persons)
	}
}

// MicRadarFrames produces legacy trajectory reports.
func MicRadarFrames(seed int64) FrameGenerator {
	rng := rand.New(rand.NewSource(seed))
	return func(uint32) []byte {
		return radar.EncodeMicRadarTrajectory(rng.Intn(3))
	}
}

// NewSyntheticRadarPort starts generating frames. Close stops it.
func NewSyntheticRadarPort(interval time.Duration, gen FrameGenerator) *SyntheticRadarPort {
	r, w := io.Pipe()
	p := &SyntheticRadarPort{
		r:       r,
		w:       w,
		replies: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
	go p.run(interval, gen)
	return p
}

func (p *SyntheticRadarPort) run(interval time.Duration, gen FrameGenerator) {
	defer p.w.Close()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var n uint32
	for {
		var out []byte
		select {
		case <-p.done:
			return
		case reply := <-p.replies:
			out = reply
		case <-ticker.C:
			n++
			out = gen(n)
		}
		if _, err := p.w.Write(out); err != nil {
			return
		}
	}
}

func (p *SyntheticRadarPort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write records the command and queues a reply for each complete line.
func (p *SyntheticRadarPort) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errPortClosed
	default:
	}
	p.mu.Lock()
	p.written.Write(b)
	lines := bytes.Count(b, []byte("\n"))
	p.mu.Unlock()
	for i := 0; i < lines; i++ {
		select {
		case p.replies <- []byte("AT+OK\n"):
		default:
		}
	}
	return len(b), nil
}

// Written returns everything written to the port.
func (p *SyntheticRadarPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func (p *SyntheticRadarPort) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.r.Close()
	})
	return nil
}

// NewSyntheticSerialMux wraps a SyntheticRadarPort in a SerialMux.
func NewSyntheticSerialMux(interval time.Duration, gen FrameGenerator) *SerialMux[*SyntheticRadarPort] {
	return NewSerialMux(NewSyntheticRadarPort(interval, gen))
}

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing: scripted reads, captured writes, injected errors.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes the next Write report one byte fewer than given
	ShortWrite bool

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort. Reads block until
// data is added or the port is closed.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.Closed && t.ReadError == nil && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.ReadBuffer.Len() > 0 {
		return t.ReadBuffer.Read(p)
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	return 0, errPortClosed
}

func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		t.ShortWrite = false
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next Read return err once buffered data is drained.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}
