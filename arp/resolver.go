package arp

import (
	"time"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/timer"
)

// PendingPacketTTL is the default drop timer for a packet queued awaiting
// ARP resolution (spec default: 2 seconds).
const PendingPacketTTL = 2 * time.Second

// CacheEntry is a learned IPv4-to-hardware-address mapping.
type CacheEntry struct {
	MAC      ipcore.HWAddr
	Iface    string
	LastSeen time.Time
}

// QueuedPacket is a forwarded datagram waiting on next-hop MAC resolution.
// Tag carries caller-defined metadata through the queue untouched (e.g. which
// counters to bump once the packet is actually sent).
type QueuedPacket struct {
	Frame    []byte
	OutIface string
	NextHop  ipcore.IPv4Addr
	Tag      any
}

type pendingPacket struct {
	id       uint64
	frame    []byte
	outIface string
	tag      any
	handle   timer.Handle
}

type pendingIP struct {
	requestInFlight bool
	nextID          uint64
	packets         []pendingPacket
}

// Resolver maintains the IP-to-MAC cache and the per-next-hop pending-packet
// queues. It holds no closures in the data path: Enqueue reports whether the
// caller must emit a broadcast request, and Drain hands back the packets to
// emit once a reply arrives, leaving all frame construction to the caller.
//
// Redesigned from a callback-carrying pending-query list (each awaiter held
// its own response buffer and callback) into this queue-plus-flag shape so
// resolution never invokes arbitrary caller code while the resolver's
// internal state is being mutated.
type Resolver struct {
	clock timer.Timer
	cache map[ipcore.IPv4Addr]CacheEntry
	queue map[ipcore.IPv4Addr]*pendingIP
}

// NewResolver constructs a Resolver. clock provides both Now() for recording
// learn timestamps and the per-packet drop timers.
func NewResolver(clock timer.Timer) *Resolver {
	return &Resolver{
		clock: clock,
		cache: make(map[ipcore.IPv4Addr]CacheEntry),
		queue: make(map[ipcore.IPv4Addr]*pendingIP),
	}
}

// Learn records or refreshes the mapping for ip, from a received ARP request,
// reply, or gratuitous announcement.
func (r *Resolver) Learn(ip ipcore.IPv4Addr, mac ipcore.HWAddr, iface string) {
	r.cache[ip] = CacheEntry{MAC: mac, Iface: iface, LastSeen: r.clock.Now()}
}

// Lookup returns the cached mapping for ip, if any.
func (r *Resolver) Lookup(ip ipcore.IPv4Addr) (CacheEntry, bool) {
	e, ok := r.cache[ip]
	return e, ok
}

// Enqueue queues frame for emission on outIface once ip resolves, copying
// frame into resolver-owned storage. needRequest is true the first time a
// packet is queued for ip since the last resolution or full drain: exactly
// one broadcast ARP request must be emitted per spec invariant 6.
func (r *Resolver) Enqueue(ip ipcore.IPv4Addr, outIface string, frame []byte, tag any) (needRequest bool) {
	p, ok := r.queue[ip]
	if !ok {
		p = &pendingIP{}
		r.queue[ip] = p
	}
	needRequest = !p.requestInFlight
	p.requestInFlight = true

	stored := append([]byte(nil), frame...)
	p.nextID++
	id := p.nextID
	pp := pendingPacket{id: id, frame: stored, outIface: outIface, tag: tag}
	pp.handle = r.clock.ScheduleOnce(PendingPacketTTL, func() {
		r.expire(ip, id)
	})
	p.packets = append(p.packets, pp)
	return needRequest
}

// expire silently drops the packet identified by id from ip's queue. Guards
// against Drain having already flushed the queue out from under it.
func (r *Resolver) expire(ip ipcore.IPv4Addr, id uint64) {
	p, ok := r.queue[ip]
	if !ok {
		return
	}
	for i, pp := range p.packets {
		if pp.id == id {
			p.packets = append(p.packets[:i], p.packets[i+1:]...)
			break
		}
	}
	if len(p.packets) == 0 {
		delete(r.queue, ip)
	}
}

// Drain removes and returns every packet queued for ip, in the order they
// were enqueued, clearing the in-flight flag so a subsequent packet to ip
// triggers a fresh broadcast request. Call this when an ARP reply for ip
// arrives.
func (r *Resolver) Drain(ip ipcore.IPv4Addr) []QueuedPacket {
	p, ok := r.queue[ip]
	if !ok {
		return nil
	}
	out := make([]QueuedPacket, len(p.packets))
	for i, pp := range p.packets {
		r.clock.Cancel(pp.handle)
		out[i] = QueuedPacket{Frame: pp.frame, OutIface: pp.outIface, NextHop: ip, Tag: pp.tag}
	}
	delete(r.queue, ip)
	return out
}

// Forget removes ip's cache entry, if any, used when an interface is
// reconfigured to a different subnet and its neighbors' mappings go stale.
func (r *Resolver) Forget(ip ipcore.IPv4Addr) {
	delete(r.cache, ip)
}

// ForgetIface removes every cache entry learned on iface.
func (r *Resolver) ForgetIface(iface string) {
	for ip, e := range r.cache {
		if e.Iface == iface {
			delete(r.cache, ip)
		}
	}
}

// Snapshot returns a copy of the ARP cache keyed by dotted-decimal address,
// matching spec.md's ARP table snapshot shape.
func (r *Resolver) Snapshot() map[string]CacheEntry {
	out := make(map[string]CacheEntry, len(r.cache))
	for ip, e := range r.cache {
		out[ip.String()] = e
	}
	return out
}
