// Package channel implements the authenticated debug and control channel: a
// fixed PIN gate, the AT command protocol and the ordered outbound send queue.
package channel

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
)

// Command framing and recognized command bodies.
const (
	PIN = "0000"

	CommandPrefix  = "AT+"
	CommandPostfix = "\r\n"

	CommandRadarStudy   = "MINEW-STUDY"
	CommandRadarReset   = "MINEW-RESET"
	CommandRadarRaw     = "MINEW-COMMAND="
	CommandDeviceReset  = "PICO-RESET"
	authMessageLength   = len(PIN) + len(CommandPostfix)
	minCommandMessage   = len(CommandPrefix) + len(CommandPostfix)
	unknownCommandReply = "Unknown command\n"
)

// ErrBusy is returned by OnOpen while another session is connected.
var ErrBusy = errors.New("command channel already has a client")

// Transport is the link a session runs over.
type Transport interface {
	// Send writes one message.
	Send(p []byte) error
	// RequestSendOpportunity asks the transport to call OnSendOpportunity
	// when it can accept a message. It must not block.
	RequestSendOpportunity()
	// Close tears the link down. The transport reports it with OnClose.
	Close() error
}

// RadarControl is the radar command surface driven by the channel.
type RadarControl interface {
	StartStudy() error
	RequestReset()
	RequestRawCommand(cmd []byte) bool
}

// DeviceResetter restarts the whole device.
type DeviceResetter interface {
	RequestReset()
}

// Options configures a Channel.
type Options struct {
	// Radar receives the MINEW-* commands. When nil they are unknown.
	Radar RadarControl
	// Device receives PICO-RESET. When nil it is unknown.
	Device DeviceResetter
	// RadarName and Version appear in the banner after authentication.
	RadarName string
	Version   string
}

// Channel is a single-client command channel.
type Channel struct {
	opts  Options
	queue *SendQueue

	mu            sync.Mutex
	transport     Transport
	session       string
	generation    uint64
	authenticated bool
	connectedAt   time.Time

	// sendMu serializes send opportunities.
	sendMu sync.Mutex
}

// Status is a snapshot of the channel for the API.
type Status struct {
	Connected     bool      `json:"connected"`
	Authenticated bool      `json:"authenticated"`
	Session       string    `json:"session,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitempty"`
	Reserved      int       `json:"reserved"`
	Ready         int       `json:"ready"`
}

// New returns a Channel with no client.
func New(opts Options) *Channel {
	return &Channel{opts: opts, queue: NewSendQueue()}
}

// OnOpen attaches a new session and returns its id.
func (c *Channel) OnOpen(t Transport) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		return "", ErrBusy
	}
	c.transport = t
	c.session = uuid.New().String()
	c.generation++
	c.authenticated = false
	c.connectedAt = time.Now()
	log.Printf("command channel: session %s opened", c.session)
	return c.session, nil
}

// OnClose detaches the session. Messages still queued for it are dropped and
// open reservations will fail to commit.
func (c *Channel) OnClose(session string) {
	c.mu.Lock()
	if c.transport == nil || c.session != session {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.session = ""
	c.authenticated = false
	c.generation++
	c.mu.Unlock()

	dropped := c.queue.dropReady()
	log.Printf("command channel: session %s closed, %d queued messages dropped", session, dropped)
}

// OnMessage handles one inbound message.
func (c *Channel) OnMessage(session string, msg []byte) {
	c.mu.Lock()
	if c.transport == nil || c.session != session {
		c.mu.Unlock()
		return
	}
	if c.authenticated {
		c.mu.Unlock()
		c.dispatch(msg)
		return
	}

	if len(msg) == authMessageLength && bytes.Equal(msg[:len(PIN)], []byte(PIN)) {
		c.authenticated = true
		c.mu.Unlock()
		log.Printf("command channel: session %s authenticated", session)
		c.banner()
		return
	}

	t := c.transport
	c.transport = nil
	c.session = ""
	c.generation++
	c.mu.Unlock()
	log.Printf("command channel: session %s failed to authenticate", session)
	if err := t.Close(); err != nil {
		log.Printf("command channel: close after failed authentication: %v", err)
	}
}

func (c *Channel) banner() {
	c.Printf("Authenticated\n")
	c.Printf("Version: %s\n", c.opts.Version)
	if c.opts.RadarName != "" {
		c.Printf("With %s radar support\n", c.opts.RadarName)
	}
}

// dispatch parses an authenticated message as AT+<command>\r\n and routes it.
func (c *Channel) dispatch(msg []byte) {
	if len(msg) < minCommandMessage ||
		!bytes.HasPrefix(msg, []byte(CommandPrefix)) ||
		!bytes.HasSuffix(msg, []byte(CommandPostfix)) {
		monitoring.Logf("Invalid command")
		return
	}
	cmd := msg[len(CommandPrefix) : len(msg)-len(CommandPostfix)]

	if radar := c.opts.Radar; radar != nil {
		switch {
		case string(cmd) == CommandRadarStudy:
			monitoring.Logf("Starting radar calibration")
			if err := radar.StartStudy(); err != nil {
				monitoring.Logf("Failed to start radar calibration: %v", err)
			}
			return
		case string(cmd) == CommandRadarReset:
			monitoring.Logf("Resetting radar")
			radar.RequestReset()
			return
		case len(cmd) > len(CommandRadarRaw) && bytes.HasPrefix(cmd, []byte(CommandRadarRaw)):
			monitoring.Logf("Sending command to radar")
			if !radar.RequestRawCommand(cmd[len(CommandRadarRaw):]) {
				monitoring.Logf("Failed to send message")
			}
			return
		}
	}
	if c.opts.Device != nil && string(cmd) == CommandDeviceReset {
		monitoring.Logf("Setting device reset request flag")
		c.opts.Device.RequestReset()
		return
	}
	c.Printf(unknownCommandReply)
}

// Reserve claims a send slot for a message of up to size bytes. It fails with
// ErrTooLarge, ErrNotConnected (no authenticated client) or ErrNoBuffer.
func (c *Channel) Reserve(size int) (*Reservation, error) {
	if size > MaxMessageSize {
		return nil, ErrTooLarge
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil || !c.authenticated {
		return nil, ErrNotConnected
	}
	return c.queue.reserve(size, c.generation)
}

// Commit queues n bytes of r.Buf for sending and signals the transport. If the
// session that r was reserved for has gone, or n is too large, the slot is
// freed and an error returned.
func (c *Channel) Commit(r *Reservation, n int) error {
	c.mu.Lock()
	t := c.transport
	live := t != nil && c.queue.slotTag(r) == c.generation
	c.mu.Unlock()

	switch {
	case !live:
		if err := c.queue.markReady(r, 0, false); err != nil {
			return err
		}
		return ErrNotConnected
	case n > MaxMessageSize || n > cap(r.Buf):
		if err := c.queue.markReady(r, 0, false); err != nil {
			return err
		}
		return ErrTooLarge
	}
	if err := c.queue.markReady(r, n, true); err != nil {
		return err
	}
	t.RequestSendOpportunity()
	return nil
}

// Printf formats into a send slot and queues it. Output beyond MaxMessageSize
// is truncated.
func (c *Channel) Printf(format string, args ...interface{}) error {
	r, err := c.Reserve(MaxMessageSize)
	if err != nil {
		return err
	}
	out := fmt.Appendf(r.Buf[:0], format, args...)
	n := copy(r.Buf[:cap(r.Buf)], out)
	return c.Commit(r, n)
}

// OnSendOpportunity sends the oldest ready message and, if more are ready,
// asks the transport for another opportunity.
func (c *Channel) OnSendOpportunity() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	t, gen := c.transport, c.generation
	c.mu.Unlock()
	if t == nil {
		return
	}

	payload, tag, more, ok := c.queue.next()
	if !ok {
		return
	}
	if tag == gen {
		if err := t.Send(payload); err != nil {
			log.Printf("command channel: send failed: %v", err)
		}
	}
	if more {
		t.RequestSendOpportunity()
	}
}

// Status returns a snapshot of the channel.
func (c *Channel) Status() Status {
	counts := c.queue.Counts()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Connected:     c.transport != nil,
		Authenticated: c.authenticated,
		Session:       c.session,
		Reserved:      counts[SlotReserved],
		Ready:         counts[SlotReady],
	}
	if st.Connected {
		st.ConnectedAt = c.connectedAt
	}
	return st
}

// Mirror is a monitoring.LogFunc that copies log lines to the authenticated
// client. Lines are dropped silently when no client is attached.
func (c *Channel) Mirror(format string, args ...interface{}) {
	_ = c.Printf("%s", monitoring.Sprintf(format, args...))
}
