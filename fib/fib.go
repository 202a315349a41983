// Package fib implements the router's forwarding information base: a
// multiset of route entries ordered for deterministic longest-prefix-match
// lookup (spec.md §3 Route entry, §4.2, §8 invariant 1).
//
// Ordering is adapted from the preference+metric tie-break idiom of
// netstack's route table (longer prefix, then lower preference/AD, then
// lower metric, then insertion order) to this router's administrative
// distance model.
package fib

import (
	"errors"
	"sort"

	"github.com/packetgrid/ipcore"
)

// Kind classifies how a route entry was installed.
type Kind uint8

const (
	KindConnected Kind = iota
	KindStatic
	KindDefault
	KindRIP
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindStatic:
		return "static"
	case KindDefault:
		return "default"
	case KindRIP:
		return "rip"
	default:
		return "Kind(unknown)"
	}
}

// Default administrative distances, lower is more preferred.
const (
	ADConnected uint8 = 0
	ADStatic    uint8 = 1
	ADRIP       uint8 = 120
)

// Route is one FIB entry. Network must equal Network&Mask. For KindConnected
// routes HasNextHop is false and Iface must refer to a port whose IP lies in
// this network; for every other kind HasNextHop is true.
type Route struct {
	Network    ipcore.IPv4Addr
	Mask       ipcore.IPv4Addr
	NextHop    ipcore.IPv4Addr
	HasNextHop bool
	Iface      string
	Kind       Kind
	AD         uint8
	Metric     uint32

	seq uint64 // insertion order, used only as the final tie-break.
}

// ErrMalformedRoute is returned by Insert when network != network&mask.
var ErrMalformedRoute = errors.New("fib: network is not aligned to mask")

// FIB is the router's route table: a multiset of Route, kept sorted by
// preference so Lookup can return on the first match.
type FIB struct {
	routes  []Route
	nextSeq uint64
}

// New constructs an empty FIB.
func New() *FIB { return &FIB{} }

// prefixLen returns the CIDR prefix length of mask, or -1 if mask is not a
// valid contiguous subnet mask (treated as least-preferred).
func prefixLen(mask ipcore.IPv4Addr) int {
	p, ok := mask.ToCIDR()
	if !ok {
		return -1
	}
	return p
}

// less reports whether a should sort before b: longer prefix wins, then
// lower administrative distance, then lower metric, then insertion order.
func less(a, b Route) bool {
	pa, pb := prefixLen(a.Mask), prefixLen(b.Mask)
	if pa != pb {
		return pa > pb
	}
	if a.AD != b.AD {
		return a.AD < b.AD
	}
	if a.Metric != b.Metric {
		return a.Metric < b.Metric
	}
	return a.seq < b.seq
}

// Insert adds r to the FIB, maintaining sorted order. r.Network must equal
// r.Network & r.Mask.
func (f *FIB) Insert(r Route) error {
	if r.Network.And(r.Mask) != r.Network {
		return ErrMalformedRoute
	}
	f.nextSeq++
	r.seq = f.nextSeq
	idx := sort.Search(len(f.routes), func(i int) bool {
		return less(r, f.routes[i])
	})
	f.routes = append(f.routes, Route{})
	copy(f.routes[idx+1:], f.routes[idx:])
	f.routes[idx] = r
	return nil
}

// RemoveWhere deletes every route matching pred, returning the removed routes.
func (f *FIB) RemoveWhere(pred func(Route) bool) []Route {
	var removed []Route
	kept := f.routes[:0]
	for _, r := range f.routes {
		if pred(r) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	f.routes = kept
	return removed
}

// Lookup returns the most preferred route whose network contains dst,
// applying longest-prefix-match with the AD/metric/insertion-order tie-break.
func (f *FIB) Lookup(dst ipcore.IPv4Addr) (Route, bool) {
	for _, r := range f.routes {
		if dst.And(r.Mask) == r.Network {
			return r, true
		}
	}
	return Route{}, false
}

// All returns a snapshot of every route, in lookup-preference order.
func (f *FIB) All() []Route {
	out := make([]Route, len(f.routes))
	copy(out, f.routes)
	return out
}
