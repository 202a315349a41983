package router

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/arp"
	"github.com/packetgrid/ipcore/ethernet"
	"github.com/packetgrid/ipcore/icmp"
	"github.com/packetgrid/ipcore/ipv4"
	"github.com/packetgrid/ipcore/rip"
	"github.com/packetgrid/ipcore/timer"
)

type sentFrame struct {
	iface string
	frame []byte
}

func newTestRouter(t *testing.T) (*Router, *timer.Manual, *[]sentFrame) {
	t.Helper()
	clock := timer.NewManual(time.Unix(0, 0))
	var sent []sentFrame
	sink := func(outIface string, frame []byte) {
		sent = append(sent, sentFrame{outIface, append([]byte(nil), frame...)})
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(clock, sink, log)
	mac0 := ipcore.HWAddr{0, 1, 2, 3, 4, 0}
	mac1 := ipcore.HWAddr{0, 1, 2, 3, 4, 1}
	if err := r.DeclareInterface("eth0", mac0, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.DeclareInterface("eth1", mac1, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.ConfigureInterface("eth0", ipcore.IPv4Addr{10, 0, 0, 1}, ipcore.CIDRMask(24)); err != nil {
		t.Fatal(err)
	}
	if err := r.ConfigureInterface("eth1", ipcore.IPv4Addr{10, 0, 1, 1}, ipcore.CIDRMask(24)); err != nil {
		t.Fatal(err)
	}
	return r, clock, &sent
}

func buildEthIPv4(t *testing.T, dstMAC, srcMAC ipcore.HWAddr, srcIP, dstIP ipcore.IPv4Addr, ttl uint8, proto ipcore.IPProto, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, ethHeaderLen+20+len(payload))
	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = dstMAC
	*efrm.SourceHardwareAddr() = srcMAC
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, _ := ipv4.NewFrame(buf[ethHeaderLen:])
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(20 + len(payload)))
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = srcIP
	*ifrm.DestinationAddr() = dstIP
	copy(ifrm.Payload(), payload)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

func buildEcho(id, seq uint16, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	frm, _ := icmp.NewFrame(buf)
	frm.SetType(icmp.TypeEcho)
	frm.SetCode(0)
	frm.SetIdentifier(id)
	frm.SetSequenceNumber(seq)
	copy(frm.Payload(), data)
	frm.SetCRC(frm.CalculateCRC())
	return buf
}

// TestHandleFrameCountsIfInOctetsFromTotalLength exercises a short IPv4
// datagram padded out to the Ethernet minimum frame size, as real links (and
// internal/transport's raw socket) deliver routinely: IfInOctets must track
// the IPv4 header's total_length field, not the padded Ethernet payload.
func TestHandleFrameCountsIfInOctetsFromTotalLength(t *testing.T) {
	r, _, _ := newTestRouter(t)
	srcMAC := ipcore.HWAddr{2, 2, 2, 2, 2, 2}
	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, srcMAC, ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.IPv4Addr{10, 0, 0, 1}, 64, ipcore.IPProtoUDP, make([]byte, 4))
	wantTotalLen := 20 + 4

	padded := append(frame, make([]byte, 40)...)

	r.HandleFrame("eth0", padded)

	if got := r.Counters().IfInOctets; got != uint64(wantTotalLen) {
		t.Fatalf("IfInOctets = %d, want %d (IPv4 total_length, not padded Ethernet payload %d)", got, wantTotalLen, len(padded)-ethHeaderLen)
	}
}

func TestConfigureInterfaceUnknown(t *testing.T) {
	r, _, _ := newTestRouter(t)
	err := r.ConfigureInterface("eth9", ipcore.IPv4Addr{1, 2, 3, 4}, ipcore.CIDRMask(24))
	if err != ipcore.ErrUnknownInterface {
		t.Fatalf("expected ErrUnknownInterface, got %v", err)
	}
}

func TestAddStaticRouteUnreachable(t *testing.T) {
	r, _, _ := newTestRouter(t)
	err := r.AddStaticRoute(ipcore.IPv4Addr{192, 168, 0, 0}, ipcore.CIDRMask(24), ipcore.IPv4Addr{172, 16, 0, 1}, 1)
	if err != ipcore.ErrNextHopUnreachable {
		t.Fatalf("expected ErrNextHopUnreachable, got %v", err)
	}
}

func TestAddStaticRouteSucceeds(t *testing.T) {
	r, _, _ := newTestRouter(t)
	err := r.AddStaticRoute(ipcore.IPv4Addr{192, 168, 0, 0}, ipcore.CIDRMask(24), ipcore.IPv4Addr{10, 0, 1, 2}, 1)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, rt := range r.RoutingTable() {
		if rt.Network == (ipcore.IPv4Addr{192, 168, 0, 0}) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected static route in routing table")
	}
}

func TestSetDefaultRoute(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if err := r.SetDefaultRoute(ipcore.IPv4Addr{10, 0, 1, 254}, 1); err != nil {
		t.Fatal(err)
	}
	rt, ok := r.fib.Lookup(ipcore.IPv4Addr{8, 8, 8, 8})
	if !ok || rt.Iface != "eth1" {
		t.Fatalf("expected default route via eth1, got %+v ok=%v", rt, ok)
	}
}

func TestHandleFrameARPRequestReply(t *testing.T) {
	r, _, sent := newTestRouter(t)
	peerMAC := ipcore.HWAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	peerIP := ipcore.IPv4Addr{10, 0, 0, 99}

	buf := make([]byte, ethHeaderLen+28)
	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = ipcore.BroadcastHWAddr
	*efrm.SourceHardwareAddr() = peerMAC
	efrm.SetEtherType(ethernet.TypeARP)
	afrm, _ := arp.NewFrame(buf[ethHeaderLen:])
	afrm.ClearHeader()
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	sHW, sIP := afrm.Sender4()
	*sHW, *sIP = peerMAC, peerIP
	_, tIP := afrm.Target4()
	*tIP = ipcore.IPv4Addr{10, 0, 0, 1}

	r.HandleFrame("eth0", buf)

	if len(*sent) != 1 {
		t.Fatalf("expected one ARP reply sent, got %d", len(*sent))
	}
	reply := (*sent)[0]
	if reply.iface != "eth0" {
		t.Fatalf("expected reply out eth0, got %s", reply.iface)
	}
	refrm, _ := ethernet.NewFrame(reply.frame)
	if refrm.EtherTypeOrSize() != ethernet.TypeARP {
		t.Fatal("expected ARP reply frame")
	}
	rafrm, _ := arp.NewFrame(reply.frame[ethHeaderLen:])
	if rafrm.Operation() != arp.OpReply {
		t.Fatal("expected reply operation")
	}
	if entry, ok := r.resolver.Lookup(peerIP); !ok || entry.MAC != peerMAC {
		t.Fatalf("expected peer learned into ARP cache, got %+v ok=%v", entry, ok)
	}
}

func TestHandleFrameEchoRequestRepliesDirectly(t *testing.T) {
	r, _, sent := newTestRouter(t)
	peerMAC := ipcore.HWAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	peerIP := ipcore.IPv4Addr{10, 0, 0, 99}
	r.resolver.Learn(peerIP, peerMAC, "eth0")

	echo := buildEcho(42, 1, []byte("hello"))
	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, peerMAC, peerIP, ipcore.IPv4Addr{10, 0, 0, 1}, 64, ipcore.IPProtoICMP, echo)

	r.HandleFrame("eth0", frame)

	if len(*sent) != 1 {
		t.Fatalf("expected one echo reply sent, got %d", len(*sent))
	}
	efrm, _ := ethernet.NewFrame((*sent)[0].frame)
	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	cfrm, _ := icmp.NewFrame(ifrm.Payload())
	if cfrm.Type() != icmp.TypeEchoReply {
		t.Fatalf("expected echo reply, got type %v", cfrm.Type())
	}
	if string(cfrm.Payload()) != "hello" {
		t.Fatalf("expected echoed payload, got %q", cfrm.Payload())
	}
	snap := r.Counters()
	if snap.ICMPOutEchoReps != 1 {
		t.Fatalf("expected ICMPOutEchoReps=1, got %d", snap.ICMPOutEchoReps)
	}
}

func TestHandleFrameEchoRequestQueuesUntilARPResolves(t *testing.T) {
	r, _, sent := newTestRouter(t)
	peerMAC := ipcore.HWAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	peerIP := ipcore.IPv4Addr{10, 0, 0, 99}

	echo := buildEcho(1, 1, []byte("x"))
	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, peerMAC, peerIP, ipcore.IPv4Addr{10, 0, 0, 1}, 64, ipcore.IPProtoICMP, echo)
	r.HandleFrame("eth0", frame)

	// No cache entry yet: reply is queued behind an ARP request, not sent directly.
	if len(*sent) != 1 {
		t.Fatalf("expected exactly the ARP request, got %d frames", len(*sent))
	}
	efrm, _ := ethernet.NewFrame((*sent)[0].frame)
	if efrm.EtherTypeOrSize() != ethernet.TypeARP {
		t.Fatal("expected an ARP request while echo reply is queued")
	}

	// Peer's reply arrives, flushing the queued echo reply.
	replyBuf := make([]byte, ethHeaderLen+28)
	er, _ := ethernet.NewFrame(replyBuf)
	*er.DestinationHardwareAddr() = ipcore.HWAddr{0, 1, 2, 3, 4, 0}
	*er.SourceHardwareAddr() = peerMAC
	er.SetEtherType(ethernet.TypeARP)
	ar, _ := arp.NewFrame(replyBuf[ethHeaderLen:])
	ar.ClearHeader()
	ar.SetHardware(1, 6)
	ar.SetProtocol(ethernet.TypeIPv4, 4)
	ar.SetOperation(arp.OpReply)
	sHW, sIP := ar.Sender4()
	*sHW, *sIP = peerMAC, peerIP
	tHW, tIP := ar.Target4()
	*tHW, *tIP = ipcore.HWAddr{0, 1, 2, 3, 4, 0}, ipcore.IPv4Addr{10, 0, 0, 1}
	r.HandleFrame("eth0", replyBuf)

	if len(*sent) != 2 {
		t.Fatalf("expected the queued echo reply to flush, got %d frames", len(*sent))
	}
	flushed, _ := ethernet.NewFrame((*sent)[1].frame)
	if flushed.EtherTypeOrSize() != ethernet.TypeIPv4 {
		t.Fatal("expected flushed frame to be the IPv4 echo reply")
	}
}

func TestHandleFrameForwardsWithCachedMAC(t *testing.T) {
	r, _, sent := newTestRouter(t)
	nextHopMAC := ipcore.HWAddr{1, 1, 1, 1, 1, 1}
	nextHop := ipcore.IPv4Addr{10, 0, 1, 50}
	r.resolver.Learn(nextHop, nextHopMAC, "eth1")

	srcMAC := ipcore.HWAddr{9, 9, 9, 9, 9, 9}
	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, srcMAC, ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.IPv4Addr{10, 0, 1, 50}, 64, ipcore.IPProtoUDP, make([]byte, 8))

	r.HandleFrame("eth0", frame)

	if len(*sent) != 1 {
		t.Fatalf("expected one forwarded frame, got %d", len(*sent))
	}
	if (*sent)[0].iface != "eth1" {
		t.Fatalf("expected forward out eth1, got %s", (*sent)[0].iface)
	}
	efrm, _ := ethernet.NewFrame((*sent)[0].frame)
	if *efrm.DestinationHardwareAddr() != nextHopMAC {
		t.Fatal("expected forwarded frame addressed to resolved next-hop MAC")
	}
	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	if ifrm.TTL() != 63 {
		t.Fatalf("expected TTL decremented to 63, got %d", ifrm.TTL())
	}
	snap := r.Counters()
	if snap.IPForwDatagrams != 1 {
		t.Fatalf("expected IPForwDatagrams=1, got %d", snap.IPForwDatagrams)
	}
}

func TestHandleFrameTTLExpiredSendsTimeExceeded(t *testing.T) {
	r, _, sent := newTestRouter(t)
	r.resolver.Learn(ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.HWAddr{2, 2, 2, 2, 2, 2}, "eth0")

	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, ipcore.HWAddr{2, 2, 2, 2, 2, 2}, ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.IPv4Addr{10, 0, 1, 50}, 1, ipcore.IPProtoUDP, make([]byte, 8))
	r.HandleFrame("eth0", frame)

	if len(*sent) != 1 {
		t.Fatalf("expected one time-exceeded message, got %d", len(*sent))
	}
	efrm, _ := ethernet.NewFrame((*sent)[0].frame)
	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	cfrm, _ := icmp.NewFrame(ifrm.Payload())
	if cfrm.Type() != icmp.TypeTimeExceeded {
		t.Fatalf("expected time-exceeded, got %v", cfrm.Type())
	}
	snap := r.Counters()
	if snap.ICMPOutTimeExcds != 1 {
		t.Fatalf("expected ICMPOutTimeExcds=1, got %d", snap.ICMPOutTimeExcds)
	}
	if snap.IfOutOctets != 0 {
		t.Fatalf("time-exceeded must not bump IfOutOctets, got %d", snap.IfOutOctets)
	}
}

func TestHandleFrameNoRouteSendsDestUnreachable(t *testing.T) {
	r, _, sent := newTestRouter(t)
	r.resolver.Learn(ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.HWAddr{2, 2, 2, 2, 2, 2}, "eth0")

	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, ipcore.HWAddr{2, 2, 2, 2, 2, 2}, ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.IPv4Addr{172, 16, 5, 5}, 64, ipcore.IPProtoUDP, make([]byte, 8))
	r.HandleFrame("eth0", frame)

	if len(*sent) != 1 {
		t.Fatalf("expected one dest-unreachable message, got %d", len(*sent))
	}
	efrm, _ := ethernet.NewFrame((*sent)[0].frame)
	ifrm, _ := ipv4.NewFrame(efrm.Payload())
	cfrm, _ := icmp.NewFrame(ifrm.Payload())
	if cfrm.Type() != icmp.TypeDestinationUnreachable || cfrm.Code() != uint8(icmp.CodeNetUnreachable) {
		t.Fatalf("expected dest-unreachable code 0, got type=%v code=%d", cfrm.Type(), cfrm.Code())
	}
	snap := r.Counters()
	if snap.IPInAddrErrors != 1 {
		t.Fatalf("expected IPInAddrErrors=1, got %d", snap.IPInAddrErrors)
	}
}

func TestHandleFrameMTUExceededWithDFSendsFragNeeded(t *testing.T) {
	r, _, sent := newTestRouter(t)
	r.resolver.Learn(ipcore.IPv4Addr{10, 0, 1, 50}, ipcore.HWAddr{3, 3, 3, 3, 3, 3}, "eth1")
	r.resolver.Learn(ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.HWAddr{2, 2, 2, 2, 2, 2}, "eth0")
	if err := r.ifaces.SetMTU("eth1", 100); err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 300)
	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, ipcore.HWAddr{2, 2, 2, 2, 2, 2}, ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.IPv4Addr{10, 0, 1, 50}, 64, ipcore.IPProtoUDP, payload)
	ifrm, _ := ipv4.NewFrame(frame[ethHeaderLen:])
	ifrm.SetFlags(ipv4.Flags(0x4000)) // DF set
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	r.HandleFrame("eth0", frame)

	if len(*sent) != 1 {
		t.Fatalf("expected one frag-needed message, got %d", len(*sent))
	}
	efrm, _ := ethernet.NewFrame((*sent)[0].frame)
	rifrm, _ := ipv4.NewFrame(efrm.Payload())
	cfrm, _ := icmp.NewFrame(rifrm.Payload())
	if cfrm.Code() != uint8(icmp.CodeFragNeededAndDFSet) {
		t.Fatalf("expected frag-needed code 4, got %d", cfrm.Code())
	}
}

func TestHandleFrameMTUExceededWithoutDFDropsSilently(t *testing.T) {
	r, _, sent := newTestRouter(t)
	r.resolver.Learn(ipcore.IPv4Addr{10, 0, 1, 50}, ipcore.HWAddr{3, 3, 3, 3, 3, 3}, "eth1")
	if err := r.ifaces.SetMTU("eth1", 100); err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 300)
	frame := buildEthIPv4(t, ipcore.HWAddr{0, 1, 2, 3, 4, 0}, ipcore.HWAddr{2, 2, 2, 2, 2, 2}, ipcore.IPv4Addr{10, 0, 0, 50}, ipcore.IPv4Addr{10, 0, 1, 50}, 64, ipcore.IPProtoUDP, payload)

	r.HandleFrame("eth0", frame)

	if len(*sent) != 0 {
		t.Fatalf("expected silent drop with DF unset, got %d frames sent", len(*sent))
	}
}

func TestHandleFrameRIPRequestSendsFullUpdate(t *testing.T) {
	r, _, sent := newTestRouter(t)
	r.RIPAdvertiseNetwork(ipcore.IPv4Addr{10, 0, 0, 0}, ipcore.CIDRMask(16))
	r.EnableRIP(rip.DefaultConfig())
	*sent = nil // drop the enable-triggered request

	buf := make([]byte, ethHeaderLen+20+8+4)
	efrm, _ := ethernet.NewFrame(buf)
	*efrm.DestinationHardwareAddr() = ipcore.BroadcastHWAddr
	*efrm.SourceHardwareAddr() = ipcore.HWAddr{4, 4, 4, 4, 4, 4}
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, _ := ipv4.NewFrame(buf[ethHeaderLen:])
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(20 + 8 + 4)
	ifrm.SetTTL(1)
	ifrm.SetProtocol(ipcore.IPProtoUDP)
	*ifrm.SourceAddr() = ipcore.IPv4Addr{10, 0, 0, 77}
	*ifrm.DestinationAddr() = ipcore.IPv4Addr{255, 255, 255, 255}
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	udpPayload := ifrm.Payload()
	binary.BigEndian.PutUint16(udpPayload[0:2], ipcore.UDPPortRIP)
	binary.BigEndian.PutUint16(udpPayload[2:4], ipcore.UDPPortRIP)
	binary.BigEndian.PutUint16(udpPayload[4:6], 12)
	binary.BigEndian.PutUint16(udpPayload[6:8], 0)
	udpPayload[8] = uint8(rip.CommandRequest)
	udpPayload[9] = rip.Version2

	r.HandleFrame("eth0", buf)

	if len(*sent) == 0 {
		t.Fatal("expected a RIP response to the request")
	}
	last := (*sent)[len(*sent)-1]
	efrmOut, _ := ethernet.NewFrame(last.frame)
	ifrmOut, _ := ipv4.NewFrame(efrmOut.Payload())
	if ifrmOut.Protocol() != ipcore.IPProtoUDP {
		t.Fatal("expected UDP response")
	}
}

func TestDisableRIPRemovesRoutes(t *testing.T) {
	r, _, _ := newTestRouter(t)
	r.RIPAdvertiseNetwork(ipcore.IPv4Addr{10, 0, 0, 0}, ipcore.CIDRMask(16))
	r.EnableRIP(rip.DefaultConfig())
	r.rip.HandleResponseEntry("eth0", ipcore.IPv4Addr{10, 0, 0, 2}, rip.AFIInet, ipcore.IPv4Addr{192, 168, 5, 0}, ipcore.CIDRMask(24), 2)

	found := false
	for _, rt := range r.RoutingTable() {
		if rt.Network == (ipcore.IPv4Addr{192, 168, 5, 0}) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected RIP route installed before disable")
	}

	r.DisableRIP()
	for _, rt := range r.RoutingTable() {
		if rt.Network == (ipcore.IPv4Addr{192, 168, 5, 0}) {
			t.Fatal("expected RIP route removed after disable")
		}
	}
}

func TestGetOSType(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if r.GetOSType() == "" {
		t.Fatal("expected non-empty OS type")
	}
}

func TestExecuteCommandNoShell(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if _, err := r.ExecuteCommand("show ip route"); err != errNoShell {
		t.Fatalf("expected errNoShell, got %v", err)
	}
}
