//go:build !linux

package transport

import "errors"

// RawSocket is unsupported outside linux; AF_PACKET raw sockets are a
// linux-specific facility. Use LoopbackPair for non-linux tests and demos.
type RawSocket struct{}

func NewRawSocket(name string) (*RawSocket, error) {
	return nil, errors.ErrUnsupported
}

func (s *RawSocket) Send(frame []byte) error      { return errors.ErrUnsupported }
func (s *RawSocket) Recv(buf []byte) (int, error) { return 0, errors.ErrUnsupported }
func (s *RawSocket) Close() error                 { return errors.ErrUnsupported }
