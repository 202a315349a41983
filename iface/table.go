// Package iface holds the router's interface (port) table: the set of named
// L3 ports the router forwards between, each with a link address, an IPv4
// address/mask, and an MTU. Ports are created once at router construction
// and never removed for the process lifetime.
package iface

import (
	"errors"

	"github.com/packetgrid/ipcore"
)

// ErrUnknownInterface is returned by Table operations that name a port the
// table does not have.
var ErrUnknownInterface = errors.New("unknown interface")

// Port is one named L3 interface.
type Port struct {
	Name string
	MAC  ipcore.HWAddr
	IP   ipcore.IPv4Addr
	Mask ipcore.IPv4Addr
	MTU  int
	// Up reports whether the link is currently usable for forwarding. A
	// down port is skipped by route/ARP resolution but its configuration
	// is retained.
	Up bool
	// RIPEnabled reports whether this port sends/accepts RIPv2 exchanges.
	RIPEnabled bool
}

// Table is the router's port table, keyed by interface name.
type Table struct {
	ports map[string]*Port
	order []string // insertion order, for stable snapshot iteration.
}

// NewTable constructs an empty interface table.
func NewTable() *Table {
	return &Table{ports: make(map[string]*Port)}
}

// Declare creates a new port with the given name and MAC, defaulting to the
// down state with no IP configured and DefaultMTU. Declaring a name that
// already exists is an error: ports are never destroyed once created.
func (t *Table) Declare(name string, mac ipcore.HWAddr) error {
	if _, exists := t.ports[name]; exists {
		return errors.New("iface: interface already declared: " + name)
	}
	t.ports[name] = &Port{Name: name, MAC: mac, MTU: ipcore.DefaultMTU}
	t.order = append(t.order, name)
	return nil
}

// Configure sets the IPv4 address and mask of an existing port, bringing it
// up. Returns ErrUnknownInterface if name was never declared.
func (t *Table) Configure(name string, ip, mask ipcore.IPv4Addr) error {
	p, ok := t.ports[name]
	if !ok {
		return ErrUnknownInterface
	}
	p.IP = ip
	p.Mask = mask
	p.Up = true
	return nil
}

// SetMTU sets an existing port's MTU.
func (t *Table) SetMTU(name string, mtu int) error {
	p, ok := t.ports[name]
	if !ok {
		return ErrUnknownInterface
	}
	p.MTU = mtu
	return nil
}

// SetRIPEnabled toggles whether a port participates in RIPv2 exchanges.
func (t *Table) SetRIPEnabled(name string, enabled bool) error {
	p, ok := t.ports[name]
	if !ok {
		return ErrUnknownInterface
	}
	p.RIPEnabled = enabled
	return nil
}

// Lookup returns the port named name.
func (t *Table) Lookup(name string) (Port, bool) {
	p, ok := t.ports[name]
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// OwnsIP reports whether ip is configured on any of the router's interfaces,
// used by the forwarding pipeline's local-delivery decision.
func (t *Table) OwnsIP(ip ipcore.IPv4Addr) (iface string, ok bool) {
	for _, name := range t.order {
		p := t.ports[name]
		if p.Up && p.IP.Equal(ip) {
			return name, true
		}
	}
	return "", false
}

// All returns a snapshot of every declared port in declaration order.
func (t *Table) All() []Port {
	out := make([]Port, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.ports[name])
	}
	return out
}
