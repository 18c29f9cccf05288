package channel

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	// SlotCount is the number of outbound messages that can be queued.
	SlotCount = 10
	// MaxMessageSize is the largest outbound message, sent as one transport write.
	MaxMessageSize = 1000
)

var (
	ErrNoBuffer       = errors.New("no send buffer available")
	ErrNotConnected   = errors.New("command channel not connected")
	ErrTooLarge       = fmt.Errorf("message larger than %d bytes", MaxMessageSize)
	ErrReservationUse = errors.New("reservation already committed or released")
)

// SlotState is the lifecycle state of a send slot.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotReserved
	SlotReady
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotReserved:
		return "reserved"
	case SlotReady:
		return "ready"
	}
	return fmt.Sprintf("SlotState(%d)", int(s))
}

type slot struct {
	id    uint32
	state SlotState
	buf   [MaxMessageSize]byte
	n     int
	// tag identifies the session the slot was reserved for.
	tag uint64
}

// SendQueue is a fixed pool of outbound message slots delivered in
// reservation order.
type SendQueue struct {
	mu     sync.Mutex
	slots  [SlotCount]slot
	nextID uint32
}

// NewSendQueue returns an empty queue. Ids start at 1.
func NewSendQueue() *SendQueue {
	return &SendQueue{nextID: 1}
}

// Reservation is exclusive write access to one slot. Buf may be written until
// Commit or Release, after which the queue owns the slot again.
type Reservation struct {
	Buf []byte

	q     *SendQueue
	index int
	id    uint32
	done  bool
}

// ID returns the monotonic id stamped on the slot.
func (r *Reservation) ID() uint32 { return r.id }

// reserve claims a free slot for a message of up to size bytes.
func (q *SendQueue) reserve(size int, tag uint64) (*Reservation, error) {
	if size > MaxMessageSize || size < 0 {
		return nil, ErrTooLarge
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.slots {
		s := &q.slots[i]
		if s.state != SlotFree {
			continue
		}
		s.state = SlotReserved
		s.id = q.nextID
		s.tag = tag
		s.n = 0
		q.nextID++
		return &Reservation{Buf: s.buf[:size], q: q, index: i, id: s.id}, nil
	}
	return nil, ErrNoBuffer
}

// markReady moves a reservation to the ready state with n payload bytes. When
// ok is false the slot is freed instead.
func (q *SendQueue) markReady(r *Reservation, n int, ok bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.done || r.q != q {
		return ErrReservationUse
	}
	r.done = true
	r.Buf = nil
	s := &q.slots[r.index]
	if s.state != SlotReserved || s.id != r.id {
		return ErrReservationUse
	}
	if !ok || n < 0 || n > MaxMessageSize {
		s.state = SlotFree
		return nil
	}
	s.n = n
	s.state = SlotReady
	return nil
}

// Release returns an uncommitted reservation to the pool.
func (r *Reservation) Release() error {
	return r.q.markReady(r, 0, false)
}

// next removes the ready slot with the lowest id and returns a copy of its
// payload, the session tag it was queued for, and whether other slots are
// still ready.
func (q *SendQueue) next() (payload []byte, tag uint64, more bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lowest := -1
	var lowestID uint32 = math.MaxUint32
	ready := 0
	for i := range q.slots {
		s := &q.slots[i]
		if s.state != SlotReady {
			continue
		}
		ready++
		if s.id <= lowestID {
			lowestID = s.id
			lowest = i
		}
	}
	if lowest < 0 {
		return nil, 0, false, false
	}
	s := &q.slots[lowest]
	payload = append([]byte(nil), s.buf[:s.n]...)
	tag = s.tag
	s.state = SlotFree
	s.n = 0
	return payload, tag, ready > 1, true
}

// dropReady frees every ready slot. Reserved slots stay with their holders.
func (q *SendQueue) dropReady() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.slots {
		if q.slots[i].state == SlotReady {
			q.slots[i].state = SlotFree
			n++
		}
	}
	return n
}

// Counts returns the number of slots in each state.
func (q *SendQueue) Counts() map[SlotState]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := map[SlotState]int{SlotFree: 0, SlotReserved: 0, SlotReady: 0}
	for i := range q.slots {
		counts[q.slots[i].state]++
	}
	return counts
}

// slotTag returns the session tag of a live reservation, or 0.
func (q *SendQueue) slotTag(r *Reservation) uint64 {
	if r == nil || r.q != q {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.done {
		return 0
	}
	return q.slots[r.index].tag
}
