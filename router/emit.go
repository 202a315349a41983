package router

import (
	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/arp"
	"github.com/packetgrid/ipcore/ethernet"
	"github.com/packetgrid/ipcore/iface"
	"github.com/packetgrid/ipcore/ipv4"
	"github.com/packetgrid/ipcore/rip"
	"github.com/packetgrid/ipcore/udp"
)

const ethHeaderLen = 14

// egressKind tags a datagram committed to the ARP-resolution path with which
// counters to bump once it's actually handed to the sink, mirroring spec.md
// §4.4/§4.5's per-trigger counter tables.
type egressKind uint8

const (
	kindForward egressKind = iota
	kindEchoReply
	kindTimeExceeded
	kindDestUnreachable
)

// buildIPv4Datagram assembles a fresh IPv4 datagram the router itself
// originates (ICMP replies/errors, RIP messages), computing the header
// checksum once.
func (r *Router) buildIPv4Datagram(proto ipcore.IPProto, srcIP, dstIP ipcore.IPv4Addr, ttl uint8, payload []byte) []byte {
	buf := make([]byte, 20+len(payload))
	ifrm, _ := ipv4.NewFrame(buf)
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(buf)))
	r.nextIPID++
	ifrm.SetID(r.nextIPID)
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = srcIP
	*ifrm.DestinationAddr() = dstIP
	copy(ifrm.Payload(), payload)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

// bumpEgressCounters applies the counter increments spec.md pins to an
// actually-transmitted datagram of the given kind and IPv4 total length.
func (r *Router) bumpEgressCounters(kind egressKind, ipv4TotalLen int) {
	switch kind {
	case kindForward:
		r.counters.IPForwDatagrams++
		r.counters.IfOutOctets += uint64(ipv4TotalLen)
	case kindEchoReply:
		r.counters.ICMPOutEchoReps++
		r.counters.ICMPOutMsgs++
		r.counters.IfOutOctets += uint64(ipv4TotalLen)
	case kindTimeExceeded:
		r.counters.ICMPOutTimeExcds++
		r.counters.ICMPOutMsgs++
	case kindDestUnreachable:
		r.counters.ICMPOutDestUnreachs++
		r.counters.ICMPOutMsgs++
	}
}

// emitUnicast sends ipv4Bytes out outIfaceName toward nextHop, resolving the
// destination MAC via ARP: a cache hit sends immediately, a miss queues the
// built Ethernet frame and emits at most one broadcast request per next hop
// (spec.md §4.3, §4.5 Phase D step 5).
func (r *Router) emitUnicast(outIfaceName string, nextHop ipcore.IPv4Addr, ipv4Bytes []byte, kind egressKind) {
	port, ok := r.ifaces.Lookup(outIfaceName)
	if !ok {
		return
	}
	buf := make([]byte, ethHeaderLen+len(ipv4Bytes))
	efrm, _ := ethernet.NewFrame(buf)
	efrm.SetEtherType(ethernet.TypeIPv4)
	*efrm.SourceHardwareAddr() = port.MAC
	copy(buf[ethHeaderLen:], ipv4Bytes)

	if entry, ok := r.resolver.Lookup(nextHop); ok {
		*efrm.DestinationHardwareAddr() = entry.MAC
		r.bumpEgressCounters(kind, len(ipv4Bytes))
		r.sink(outIfaceName, buf)
		return
	}

	needRequest := r.resolver.Enqueue(nextHop, outIfaceName, buf, kind)
	if needRequest {
		r.sendARPRequest(outIfaceName, port, nextHop)
	}
}

// emitBroadcast sends ipv4Bytes out outIfaceName to the Ethernet broadcast
// address, used for RIP messages which are never unicast/ARP-resolved.
func (r *Router) emitBroadcast(outIfaceName string, ipv4Bytes []byte) {
	port, ok := r.ifaces.Lookup(outIfaceName)
	if !ok {
		return
	}
	buf := make([]byte, ethHeaderLen+len(ipv4Bytes))
	efrm, _ := ethernet.NewFrame(buf)
	efrm.SetEtherType(ethernet.TypeIPv4)
	*efrm.SourceHardwareAddr() = port.MAC
	*efrm.DestinationHardwareAddr() = ipcore.BroadcastHWAddr
	copy(buf[ethHeaderLen:], ipv4Bytes)
	r.sink(outIfaceName, buf)
}

// flushResolved drains every packet queued for ip, patches in the resolved
// MAC, and hands each one to the sink, crediting the counters its egressKind
// tag names.
func (r *Router) flushResolved(ip ipcore.IPv4Addr, mac ipcore.HWAddr) {
	for _, pkt := range r.resolver.Drain(ip) {
		efrm, err := ethernet.NewFrame(pkt.Frame)
		if err != nil {
			continue
		}
		*efrm.DestinationHardwareAddr() = mac
		kind, _ := pkt.Tag.(egressKind)
		r.bumpEgressCounters(kind, len(pkt.Frame)-ethHeaderLen)
		r.sink(pkt.OutIface, pkt.Frame)
	}
}

// sendARPRequest broadcasts a request for targetIP out outIfaceName, sourced
// from port's own address.
func (r *Router) sendARPRequest(outIfaceName string, port iface.Port, targetIP ipcore.IPv4Addr) {
	buf := make([]byte, ethHeaderLen+28)
	efrm, _ := ethernet.NewFrame(buf)
	efrm.SetEtherType(ethernet.TypeARP)
	*efrm.SourceHardwareAddr() = port.MAC
	*efrm.DestinationHardwareAddr() = ipcore.BroadcastHWAddr

	afrm, _ := arp.NewFrame(buf[ethHeaderLen:])
	afrm.ClearHeader()
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	senderHW, senderIP := afrm.Sender4()
	*senderHW, *senderIP = port.MAC, port.IP
	_, targetIPField := afrm.Target4()
	*targetIPField = targetIP

	r.sink(outIfaceName, buf)
}

// sendARPReply unicasts a reply to requesterMAC/requesterIP, sourced from
// port's own address.
func (r *Router) sendARPReply(outIfaceName string, port iface.Port, requesterMAC ipcore.HWAddr, requesterIP ipcore.IPv4Addr) {
	buf := make([]byte, ethHeaderLen+28)
	efrm, _ := ethernet.NewFrame(buf)
	efrm.SetEtherType(ethernet.TypeARP)
	*efrm.SourceHardwareAddr() = port.MAC
	*efrm.DestinationHardwareAddr() = requesterMAC

	afrm, _ := arp.NewFrame(buf[ethHeaderLen:])
	afrm.ClearHeader()
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpReply)
	senderHW, senderIP := afrm.Sender4()
	*senderHW, *senderIP = port.MAC, port.IP
	targetHW, targetIP := afrm.Target4()
	*targetHW, *targetIP = requesterMAC, requesterIP

	r.sink(outIfaceName, buf)
}

// sendRIP is the rip.Engine's SendFunc: it chunks entries into messages of
// at most rip.MaxEntriesPerMessage, encapsulates each in UDP/520 (checksum
// disabled per spec.md §4.6) and IPv4 (TTL=1, broadcast destination), and
// emits them out outIfaceName.
func (r *Router) sendRIP(outIfaceName string, command rip.Command, entries []rip.OutEntry) {
	port, ok := r.ifaces.Lookup(outIfaceName)
	if !ok || len(entries) == 0 {
		return
	}
	for len(entries) > 0 {
		n := len(entries)
		if n > rip.MaxEntriesPerMessage {
			n = rip.MaxEntriesPerMessage
		}
		chunk := entries[:n]
		entries = entries[n:]

		buf := make([]byte, 4, 4+n*20)
		msg, _ := rip.NewMessage(buf)
		msg.SetCommand(command)
		msg.SetVersion(rip.Version2)
		for _, e := range chunk {
			var entry rip.Entry
			var err error
			buf, entry, err = rip.AppendEntry(buf)
			if err != nil {
				break
			}
			entry.SetAFI(rip.AFIInet)
			*entry.IPAddr() = e.Network
			*entry.Mask() = e.Mask
			*entry.NextHop() = ipcore.IPv4Addr{}
			entry.SetMetric(e.Metric)
		}

		udpBuf := make([]byte, 8+len(buf))
		ufrm, _ := udp.NewFrame(udpBuf)
		ufrm.SetSourcePort(ipcore.UDPPortRIP)
		ufrm.SetDestinationPort(ipcore.UDPPortRIP)
		ufrm.SetLength(uint16(len(udpBuf)))
		ufrm.SetCRC(0)
		copy(udpBuf[8:], buf)

		ipv4Bytes := r.buildIPv4Datagram(ipcore.IPProtoUDP, port.IP, ipcore.IPv4Addr{255, 255, 255, 255}, ipcore.RIPTTL, udpBuf)
		r.emitBroadcast(outIfaceName, ipv4Bytes)
	}
}
