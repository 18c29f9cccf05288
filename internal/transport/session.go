// Package transport runs command channel sessions over concrete links: byte
// streams (TCP, Bluetooth RFCOMM) and WebSockets.
package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/banshee-data/occupancy.sensor/internal/channel"
)

// MaxInboundMessage is the largest inbound message read in one go.
const MaxInboundMessage = 1024

// Conn is a message-oriented client link.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(p []byte) error
	Close() error
}

// Handler is the channel surface a session drives. *channel.Channel
// implements it.
type Handler interface {
	OnOpen(t channel.Transport) (string, error)
	OnMessage(session string, msg []byte)
	OnClose(session string)
	OnSendOpportunity()
}

// session adapts a Conn to channel.Transport.
type session struct {
	conn      Conn
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSession(conn Conn) *session {
	return &session{
		conn:  conn,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (s *session) Send(p []byte) error { return s.conn.WriteMessage(p) }

// RequestSendOpportunity coalesces requests; the sender loop calls back once
// per pending request.
func (s *session) RequestSendOpportunity() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// RunSession drives conn until it closes, the handler closes it, or ctx is
// done. Each ReadMessage result is one inbound message.
func RunSession(ctx context.Context, conn Conn, h Handler) error {
	s := newSession(conn)
	id, err := h.OnOpen(s)
	if err != nil {
		conn.Close()
		return err
	}
	defer h.OnClose(id)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				s.Close()
				return
			case <-s.ready:
				h.OnSendOpportunity()
			}
		}
	}()
	defer wg.Wait()
	defer s.Close()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// closed locally
				return nil
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if len(msg) == 0 {
			continue
		}
		h.OnMessage(id, msg)
	}
}

// Acceptor yields client links.
type Acceptor interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Serve accepts links until ctx is done and runs a session for each. The
// handler decides whether a second concurrent client is allowed.
func Serve(ctx context.Context, a Acceptor, h Handler) error {
	go func() {
		<-ctx.Done()
		a.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := a.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := RunSession(ctx, conn, h); err != nil {
				log.Printf("command channel session on %s: %v", a.Addr(), err)
			}
		}()
	}
}
