package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type rfcommAcceptor struct {
	fd      int
	channel uint8
}

// ListenRFCOMM listens for Bluetooth serial port profile clients on an RFCOMM
// channel of any local adapter. Pairing and the SDP record are left to the
// host's Bluetooth stack.
func ListenRFCOMM(channel uint8) (Acceptor, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: channel}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm bind channel %d: %w", channel, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm listen: %w", err)
	}
	return &rfcommAcceptor{fd: fd, channel: channel}, nil
}

func (a *rfcommAcceptor) Accept() (Conn, error) {
	nfd, _, err := unix.Accept4(a.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("rfcomm accept: %w", err)
	}
	return NewStreamConn(os.NewFile(uintptr(nfd), fmt.Sprintf("rfcomm%d", a.channel))), nil
}

// Close unblocks a pending Accept and releases the socket.
func (a *rfcommAcceptor) Close() error {
	unix.Shutdown(a.fd, unix.SHUT_RDWR)
	return unix.Close(a.fd)
}

func (a *rfcommAcceptor) Addr() string { return fmt.Sprintf("rfcomm:%d", a.channel) }
