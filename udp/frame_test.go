package udp

import (
	"testing"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/ipv4"
)

func TestFrameFields(t *testing.T) {
	var buf [64]byte
	ufrm, err := NewFrame(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	ufrm.SetSourcePort(520)
	ufrm.SetDestinationPort(520)
	ufrm.SetLength(16)
	if ufrm.SourcePort() != 520 || ufrm.DestinationPort() != 520 {
		t.Fatal("port round trip failed")
	}
	if ufrm.Length() != 16 {
		t.Fatal("length round trip failed")
	}
	if len(ufrm.Payload()) != 8 {
		t.Fatalf("expected 8 byte payload, got %d", len(ufrm.Payload()))
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	var ipbuf [20 + 16]byte
	ifrm, err := ipv4.NewFrame(ipbuf[:])
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(ipbuf)))
	ifrm.SetProtocol(ipcore.IPProtoUDP)
	*ifrm.SourceAddr() = [4]byte{10, 0, 0, 1}
	*ifrm.DestinationAddr() = [4]byte{10, 0, 0, 2}

	ufrm, err := NewFrame(ipbuf[20:])
	if err != nil {
		t.Fatal(err)
	}
	ufrm.SetSourcePort(520)
	ufrm.SetDestinationPort(520)
	ufrm.SetLength(16)
	copy(ufrm.Payload(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	ufrm.SetCRC(0)
	sum := ufrm.CalculateChecksum(ifrm)
	ufrm.SetCRC(sum)
	if sum == 0 {
		t.Fatal("checksum should never be zero")
	}
}
