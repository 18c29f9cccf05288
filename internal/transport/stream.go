package transport

import (
	"io"
	"net"
	"sync"
)

// streamConn frames a byte stream as messages: each Read is one message.
// RFCOMM preserves the sender's packet boundaries; line-based TCP clients
// send one command per write.
type streamConn struct {
	rwc     io.ReadWriteCloser
	buf     []byte
	writeMu sync.Mutex
}

// NewStreamConn wraps a byte stream.
func NewStreamConn(rwc io.ReadWriteCloser) Conn {
	return &streamConn{rwc: rwc, buf: make([]byte, MaxInboundMessage)}
}

func (c *streamConn) ReadMessage() ([]byte, error) {
	n, err := c.rwc.Read(c.buf)
	if n > 0 {
		return append([]byte(nil), c.buf[:n]...), nil
	}
	return nil, err
}

func (c *streamConn) WriteMessage(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.rwc.Write(p)
	if err == nil && n != len(p) {
		return io.ErrShortWrite
	}
	return err
}

func (c *streamConn) Close() error { return c.rwc.Close() }

type tcpAcceptor struct {
	ln net.Listener
}

// ListenTCP listens for command channel clients on a TCP address.
func ListenTCP(addr string) (Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpAcceptor{ln: ln}, nil
}

func (a *tcpAcceptor) Accept() (Conn, error) {
	c, err := a.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamConn(c), nil
}

func (a *tcpAcceptor) Close() error { return a.ln.Close() }
func (a *tcpAcceptor) Addr() string { return a.ln.Addr().String() }
