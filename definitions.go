// Package ipcore holds wire vocabulary shared by every protocol package in
// this module: protocol numbers, the IPv4 one's-complement checksum, address
// types, and the accumulating [Validator] every Frame type checks itself
// against. Protocol-specific framing lives in the sibling packages (ethernet,
// arp, ipv4, icmp, udp, rip).
package ipcore

import "strconv"

// IPProto represents the IP protocol number carried in the IPv4 Protocol field.
type IPProto uint8

// IP protocol numbers in active use by this router plus a handful of the
// broader IANA registry, kept for diagnostic display of protocols the router
// does not run control-plane logic for (see ipcore/router Phase C.1:
// anything other than ICMP/UDP is silently dropped).
const (
	IPProtoHopByHop IPProto = 0  // IPv6 Hop-by-Hop Option
	IPProtoICMP     IPProto = 1  // Internet Control Message [RFC792]
	IPProtoIGMP     IPProto = 2  // Internet Group Management
	IPProtoIPv4     IPProto = 4  // IPv4 encapsulation
	IPProtoTCP      IPProto = 6  // Transmission Control [RFC793]
	IPProtoEGP      IPProto = 8  // Exterior Gateway Protocol
	IPProtoIGP      IPProto = 9  // Interior Gateway (Cisco IGRP)
	IPProtoUDP      IPProto = 17 // User Datagram [RFC768]
	IPProtoRDP      IPProto = 27 // Reliable Data Protocol
	IPProtoIPv6     IPProto = 41 // IPv6 encapsulation
	IPProtoGRE      IPProto = 47 // Generic Routing Encapsulation
	IPProtoESP      IPProto = 50 // Encap Security Payload
	IPProtoAH       IPProto = 51 // Authentication Header
	IPProtoIPv6ICMP IPProto = 58 // ICMP for IPv6
	IPProtoEIGRP    IPProto = 88
	IPProtoOSPFIGP  IPProto = 89
	IPProtoVRRP     IPProto = 112
	IPProtoL2TP     IPProto = 115
	IPProtoSCTP     IPProto = 132
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoIGMP:
		return "IGMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	case IPProtoIPv6:
		return "IPv6"
	case IPProtoOSPFIGP:
		return "OSPFIGP"
	case IPProtoEIGRP:
		return "EIGRP"
	default:
		return "IPProto(" + strconv.Itoa(int(p)) + ")"
	}
}

// Protocol constants pinned by the router specification.
const (
	// RIPMetricInfinity is the RIPv2 metric value representing an unreachable route.
	RIPMetricInfinity = 16
	// RIPMaxEntriesPerMessage is the maximum number of route entries in a single RIPv2 message.
	RIPMaxEntriesPerMessage = 25
	// UDPPortRIP is the well-known UDP port RIPv2 speaks on.
	UDPPortRIP = 520
	// DefaultTTL is the TTL used for datagrams the router itself originates (ICMP replies/errors).
	DefaultTTL = 255
	// RIPTTL is the TTL used for RIPv2-originated IPv4 datagrams (link-local only).
	RIPTTL = 1
	// DefaultMTU is the MTU assumed for an interface that doesn't specify one.
	DefaultMTU = 1500
)
