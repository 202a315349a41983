//go:build linux

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// RawSocket is a Port backed by an AF_PACKET/SOCK_RAW socket bound to a real
// network interface: Send/Recv move whole Ethernet frames, exactly what
// router.Router's Sink and HandleFrame trade in.
type RawSocket struct {
	fd      int
	ifindex int
	name    string
}

// NewRawSocket opens and binds a raw socket to the named interface,
// capturing every EtherType (ETH_P_ALL). Requires CAP_NET_RAW.
func NewRawSocket(name string) (*RawSocket, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("transport: lookup interface %q: %w", name, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("transport: open raw socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("transport: bind to %q: %w", name, err)
	}

	ok = true
	return &RawSocket{fd: fd, ifindex: ifi.Index, name: name}, nil
}

// Send transmits frame as-is; the caller builds the full Ethernet header.
func (s *RawSocket) Send(frame []byte) error {
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  s.ifindex,
	}
	return unix.Sendto(s.fd, frame, 0, addr)
}

// Recv blocks for the next frame arriving on the interface, including ones
// this process sent (AF_PACKET loops back locally-originated traffic too;
// callers that only want genuinely received frames should filter on source
// MAC).
func (s *RawSocket) Recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RawSocket) Close() error {
	return unix.Close(s.fd)
}

func htons(v uint16) uint16 { return (v << 8) | (v >> 8) }
