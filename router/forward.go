package router

import (
	"log/slog"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/arp"
	"github.com/packetgrid/ipcore/ethernet"
	"github.com/packetgrid/ipcore/icmp"
	"github.com/packetgrid/ipcore/iface"
	"github.com/packetgrid/ipcore/ipv4"
	"github.com/packetgrid/ipcore/rip"
	"github.com/packetgrid/ipcore/udp"
)

// icmpHeaderLen is the fixed ICMP header size, mirrored here since it's
// unexported within the icmp package.
const icmpHeaderLen = 8

// HandleFrame is the router's sole packet-ingress entry point (spec.md §4.5,
// §4.7): it runs the whole pipeline synchronously, from L2 validation through
// local delivery or forwarding, for one Ethernet frame received on portName.
func (r *Router) HandleFrame(portName string, frame []byte) {
	port, ok := r.ifaces.Lookup(portName)
	if !ok {
		return
	}
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return
	}
	var v ipcore.Validator
	efrm.ValidateSize(&v)
	if v.HasError() {
		return
	}

	if !efrm.IsBroadcast() && *efrm.DestinationHardwareAddr() != port.MAC {
		return
	}

	switch efrm.EtherTypeOrSize() {
	case ethernet.TypeARP:
		r.handleARP(port, efrm.Payload())
	case ethernet.TypeIPv4:
		r.handleIPv4(port, efrm.Payload())
	default:
		return
	}
}

// handleARP processes a received ARP frame: requests for the ingress
// port's own address are answered, and any reply (or gratuitous
// announcement) is learned into the cache, flushing packets that were
// queued awaiting this resolution (spec.md §4.3).
func (r *Router) handleARP(port iface.Port, payload []byte) {
	afrm, err := arp.NewFrame(payload)
	if err != nil {
		return
	}
	var v ipcore.Validator
	afrm.ValidateSize(&v)
	if v.HasError() {
		return
	}
	if t, l := afrm.Protocol(); t != ethernet.TypeIPv4 || l != 4 {
		return
	}

	senderHW, senderIP := afrm.Sender4()
	r.resolver.Learn(ipcore.IPv4Addr(*senderIP), ipcore.HWAddr(*senderHW), port.Name)
	r.flushResolved(ipcore.IPv4Addr(*senderIP), ipcore.HWAddr(*senderHW))

	switch afrm.Operation() {
	case arp.OpRequest:
		_, targetIP := afrm.Target4()
		if port.Up && port.IP.Equal(ipcore.IPv4Addr(*targetIP)) {
			r.sendARPReply(port.Name, port, ipcore.HWAddr(*senderHW), ipcore.IPv4Addr(*senderIP))
		}
	case arp.OpReply:
		// already learned and flushed above.
	}
}

// handleIPv4 runs Phase B (header sanity) and Phase C (local-vs-forward
// dispatch) of the forwarding pipeline over an IPv4 datagram received on
// port.
func (r *Router) handleIPv4(port iface.Port, payload []byte) {
	ifrm, err := ipv4.NewFrame(payload)
	if err != nil {
		r.counters.IPInHdrErrors++
		return
	}
	var v ipcore.Validator
	ifrm.ValidateSize(&v)
	if v.HasError() {
		r.counters.IPInHdrErrors++
		return
	}
	version, _ := ifrm.VersionAndIHL()
	if version != 4 {
		r.counters.IPInHdrErrors++
		return
	}
	if ifrm.CalculateHeaderCRC() != ifrm.CRC() {
		r.counters.IPInHdrErrors++
		return
	}
	r.counters.IfInOctets += uint64(ifrm.TotalLength())

	dst := ipcore.IPv4Addr(*ifrm.DestinationAddr())
	if dst.IsBroadcast() {
		r.deliverLocal(port, ifrm)
		return
	}
	if _, ok := r.ifaces.OwnsIP(dst); ok {
		r.deliverLocal(port, ifrm)
		return
	}
	r.forward(port, ifrm)
}

// deliverLocal handles a datagram addressed to the router itself (Phase C.1):
// ICMP echo requests are answered, RIP messages on UDP/520 are handed to the
// routing engine, and everything else is silently dropped.
func (r *Router) deliverLocal(port iface.Port, ifrm ipv4.Frame) {
	switch ifrm.Protocol() {
	case ipcore.IPProtoICMP:
		cfrm, err := icmp.NewFrame(ifrm.Payload())
		if err != nil {
			return
		}
		var v ipcore.Validator
		cfrm.ValidateSize(&v)
		if v.HasError() || cfrm.Type() != icmp.TypeEcho {
			return
		}
		data := cfrm.Payload()
		reply := make([]byte, 8+len(data))
		var gen icmp.Generator
		rfrm, err := gen.NewEchoReply(reply, cfrm.Identifier(), cfrm.SequenceNumber(), data)
		if err != nil {
			return
		}
		src := ipcore.IPv4Addr(*ifrm.SourceAddr())
		dgram := r.buildIPv4Datagram(ipcore.IPProtoICMP, port.IP, src, ipcore.DefaultTTL, rfrm.RawData())
		outIface, nextHop, ok := r.routeToward(src)
		if !ok {
			outIface, nextHop = port.Name, src
		}
		r.emitUnicast(outIface, nextHop, dgram, kindEchoReply)

	case ipcore.IPProtoUDP:
		ufrm, err := udp.NewFrame(ifrm.Payload())
		if err != nil {
			return
		}
		var v ipcore.Validator
		ufrm.ValidateSize(&v)
		if v.HasError() || ufrm.DestinationPort() != ipcore.UDPPortRIP {
			return
		}
		r.handleRIP(port, ifrm, ufrm)

	default:
		return
	}
}

// handleRIP dispatches a UDP/520 datagram's RIP message to the routing
// engine, one wire entry at a time (spec.md §4.6).
func (r *Router) handleRIP(port iface.Port, ifrm ipv4.Frame, ufrm udp.Frame) {
	msg, err := rip.NewMessage(ufrm.Payload())
	if err != nil {
		return
	}
	var v ipcore.Validator
	msg.ValidateSize(&v)
	if v.HasError() || msg.Version() != rip.Version2 {
		return
	}

	srcIP := ipcore.IPv4Addr(*ifrm.SourceAddr())
	switch msg.Command() {
	case rip.CommandRequest:
		r.rip.HandleRequest(port.Name)
	case rip.CommandResponse:
		for i := 0; i < msg.NumEntries(); i++ {
			e := msg.EntryAt(i)
			r.rip.HandleResponseEntry(port.Name, srcIP, e.AFI(), ipcore.IPv4Addr(*e.IPAddr()), ipcore.IPv4Addr(*e.Mask()), e.Metric())
		}
	}
}

// forward runs Phase D/E of the pipeline: TTL expiry, route lookup, MTU/DF
// enforcement, and next-hop MAC resolution, on a datagram not addressed to
// the router itself.
func (r *Router) forward(port iface.Port, ifrm ipv4.Frame) {
	if ifrm.TTL() <= 1 {
		r.sendTimeExceeded(port, ifrm)
		return
	}

	dst := ipcore.IPv4Addr(*ifrm.DestinationAddr())
	route, ok := r.fib.Lookup(dst)
	if !ok {
		r.counters.IPInAddrErrors++
		r.sendDestUnreachable(port, ifrm, icmp.CodeNetUnreachable)
		return
	}
	outPort, ok := r.ifaces.Lookup(route.Iface)
	if !ok || !outPort.Up {
		r.counters.IPInAddrErrors++
		r.sendDestUnreachable(port, ifrm, icmp.CodeNetUnreachable)
		return
	}

	cloned := append([]byte(nil), ifrm.RawData()...)
	cfrm, _ := ipv4.NewFrame(cloned)
	cfrm.DecrementTTL()
	cfrm.SetCRC(cfrm.CalculateHeaderCRC())

	mtu := outPort.MTU
	if mtu <= 0 {
		mtu = ipcore.DefaultMTU
	}
	if int(cfrm.TotalLength()) > mtu {
		if cfrm.Flags().DontFragment() {
			r.sendDestUnreachable(port, ifrm, icmp.CodeFragNeededAndDFSet)
		}
		return
	}

	nextHop := dst
	if route.HasNextHop {
		nextHop = route.NextHop
	}
	r.emitUnicast(route.Iface, nextHop, cloned, kindForward)
}

// sendTimeExceeded builds and emits a time-exceeded message back toward the
// offending datagram's source, suppressing it per RFC 1812 if the offending
// datagram was itself an ICMP error (spec.md §4.4).
func (r *Router) sendTimeExceeded(port iface.Port, ifrm ipv4.Frame) {
	src := ipcore.IPv4Addr(*ifrm.SourceAddr())
	offendingPayload := ifrm.Payload()
	n := icmpHeaderLen + ifrm.HeaderLength() + min(8, len(offendingPayload))
	buf := make([]byte, n)
	var gen icmp.Generator
	cfrm, err := gen.NewTimeExceeded(buf, rawHeader(ifrm), ifrm.Protocol(), offendingPayload)
	if err != nil {
		r.debug("icmp:suppressed", slog.String("type", "time-exceeded"))
		return
	}
	outIface, nextHop, ok := r.routeToward(src)
	if !ok {
		outIface, nextHop = port.Name, src
	}
	dgram := r.buildIPv4Datagram(ipcore.IPProtoICMP, port.IP, src, ipcore.DefaultTTL, cfrm.RawData())
	r.emitUnicast(outIface, nextHop, dgram, kindTimeExceeded)
}

// sendDestUnreachable builds and emits a destination-unreachable message of
// the given code back toward the offending datagram's source.
func (r *Router) sendDestUnreachable(port iface.Port, ifrm ipv4.Frame, code icmp.CodeDestinationUnreachable) {
	src := ipcore.IPv4Addr(*ifrm.SourceAddr())
	offendingPayload := ifrm.Payload()
	n := icmpHeaderLen + ifrm.HeaderLength() + min(8, len(offendingPayload))
	buf := make([]byte, n)
	var gen icmp.Generator
	cfrm, err := gen.NewDestUnreachable(buf, code, rawHeader(ifrm), ifrm.Protocol(), offendingPayload)
	if err != nil {
		r.debug("icmp:suppressed", slog.String("type", "dest-unreachable"))
		return
	}
	outIface, nextHop, ok := r.routeToward(src)
	if !ok {
		outIface, nextHop = port.Name, src
	}
	dgram := r.buildIPv4Datagram(ipcore.IPProtoICMP, port.IP, src, ipcore.DefaultTTL, cfrm.RawData())
	r.emitUnicast(outIface, nextHop, dgram, kindDestUnreachable)
}

// rawHeader returns the offending datagram's IP header bytes (including any
// options), the portion RFC 792 says an ICMP error message echoes back.
func rawHeader(ifrm ipv4.Frame) []byte {
	return ifrm.RawData()[:ifrm.HeaderLength()]
}
