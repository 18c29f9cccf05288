package main

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/channel"
)

// DefaultDialTimeout bounds the TCP connect.
const DefaultDialTimeout = 5 * time.Second

// Client is a connected command channel session. Everything the sensor
// sends is copied to the output writer.
type Client struct {
	conn net.Conn
	addr string

	mu  sync.Mutex
	out io.Writer

	done chan struct{}
}

// Dial connects to the sensor's command channel and authenticates.
func Dial(addr string, out io.Writer) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := newClient(conn, addr, out)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func newClient(conn net.Conn, addr string, out io.Writer) (*Client, error) {
	c := &Client{conn: conn, addr: addr, out: out, done: make(chan struct{})}
	go c.readLoop()
	if _, err := conn.Write([]byte(channel.PIN + channel.CommandPostfix)); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	buf := make([]byte, 512)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.out.Write(buf[:n])
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Addr is the address the client dialled.
func (c *Client) Addr() string { return c.addr }

// Send writes one AT command.
func (c *Client) Send(body string) error {
	_, err := c.conn.Write(FormatCommand(body))
	return err
}

// Done is closed once the sensor hangs up.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close ends the session.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// FormatCommand frames body as an AT command line.
func FormatCommand(body string) []byte {
	return []byte(channel.CommandPrefix + body + channel.CommandPostfix)
}

// commandBody maps a shell command and its arguments to the AT command body.
func commandBody(name string, args []string) (string, error) {
	switch name {
	case "study":
		return channel.CommandRadarStudy, nil
	case "reset":
		return channel.CommandRadarReset, nil
	case "reboot":
		return channel.CommandDeviceReset, nil
	case "raw":
		if len(args) == 0 {
			return "", fmt.Errorf("raw needs a radar command")
		}
		return channel.CommandRadarRaw + strings.Join(args, " "), nil
	case "at":
		if len(args) == 0 {
			return "", fmt.Errorf("at needs a command body")
		}
		return strings.Join(args, " "), nil
	}
	return "", fmt.Errorf("unknown command %q", name)
}
