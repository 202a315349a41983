// Package counters holds the router's SNMP-style monotonic traffic and
// error counters (spec.md §3 Counters).
package counters

// Counters is a set of monotonically increasing u64 counters. The zero
// value is ready to use. All fields are exported for direct increment by the
// forwarding pipeline; Snapshot returns a value-copy so no caller can hold a
// reference into live counter state.
type Counters struct {
	IfInOctets  uint64
	IfOutOctets uint64

	IPInHdrErrors  uint64
	IPInAddrErrors uint64
	IPForwDatagrams uint64

	ICMPOutMsgs          uint64
	ICMPOutDestUnreachs  uint64
	ICMPOutTimeExcds     uint64
	ICMPOutEchoReps      uint64
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Counters { return *c }
