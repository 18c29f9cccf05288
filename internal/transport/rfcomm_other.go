//go:build !linux

package transport

import "errors"

// ListenRFCOMM is only available on Linux.
func ListenRFCOMM(channel uint8) (Acceptor, error) {
	return nil, errors.New("rfcomm listening is only supported on linux")
}
