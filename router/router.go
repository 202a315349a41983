// Package router implements the software IPv4 router facade: the single
// entry point (HandleFrame) that ties the interface table, FIB, ARP
// resolver, ICMP generator, and RIPv2 engine into one forwarding pipeline,
// plus the control operations external collaborators (a CLI shell, a
// topology orchestrator) use to configure it.
package router

import (
	"log/slog"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/arp"
	"github.com/packetgrid/ipcore/counters"
	"github.com/packetgrid/ipcore/fib"
	"github.com/packetgrid/ipcore/iface"
	"github.com/packetgrid/ipcore/icmp"
	"github.com/packetgrid/ipcore/internal"
	"github.com/packetgrid/ipcore/rip"
	"github.com/packetgrid/ipcore/timer"
)

// Sink is the external delivery callback a Router hands finished Ethernet
// frames to for transmission on outIface (see spec.md §6 external
// interfaces). It must not block the caller for long: HandleFrame and every
// timer callback run synchronously end-to-end.
type Sink func(outIface string, frame []byte)

// Router owns every piece of router state: ports, FIB, ARP cache/queue, RIP
// engine, and counters. All of it is mutated from HandleFrame, a timer
// callback, or a configuration call, never concurrently (spec.md §5).
type Router struct {
	ifaces   *iface.Table
	fib      *fib.FIB
	resolver *arp.Resolver
	rip      *rip.Engine
	counters counters.Counters
	clock    timer.Timer
	icmpGen  icmp.Generator
	sink     Sink
	osType   string
	nextIPID uint16
	logger
}

// New constructs a Router with no declared interfaces. clock drives every
// timer (ARP drop, RIP aging/GC/periodic update); sink receives every
// finished Ethernet frame the router emits.
func New(clock timer.Timer, sink Sink, log *slog.Logger) *Router {
	r := &Router{
		ifaces:   iface.NewTable(),
		fib:      fib.New(),
		resolver: arp.NewResolver(clock),
		clock:    clock,
		sink:     sink,
		osType:   "packetgrid-ipcore",
		logger:   logger{log: log},
	}
	r.rip = rip.NewEngine(r.fib, r.ifaces, clock, r.sendRIP)
	return r
}

// DeclareInterface creates a new down, unconfigured port named name with the
// given MAC and MTU (0 selects ipcore.DefaultMTU). Ports are created once, at
// topology construction, and never destroyed for the router's lifetime
// (spec.md §3).
func (r *Router) DeclareInterface(name string, mac ipcore.HWAddr, mtu int) error {
	if err := r.ifaces.Declare(name, mac); err != nil {
		return err
	}
	if mtu > 0 {
		return r.ifaces.SetMTU(name, mtu)
	}
	return nil
}

// ConfigureInterface sets name's IPv4 address and mask, bringing it up and
// installing/replacing its connected route (spec.md §4.2, §4.7).
func (r *Router) ConfigureInterface(name string, ip, mask ipcore.IPv4Addr) error {
	if _, ok := r.ifaces.Lookup(name); !ok {
		return ipcore.ErrUnknownInterface
	}
	r.fib.RemoveWhere(func(rt fib.Route) bool { return rt.Kind == fib.KindConnected && rt.Iface == name })
	if err := r.ifaces.Configure(name, ip, mask); err != nil {
		return err
	}
	err := r.fib.Insert(fib.Route{
		Network: ip.And(mask), Mask: mask,
		Iface: name, Kind: fib.KindConnected, AD: fib.ADConnected,
	})
	if err != nil {
		return err
	}
	r.resolver.ForgetIface(name)
	if r.rip.Enabled() {
		r.rip.RefreshEligibility()
	}
	return nil
}

// connectedIfaceFor returns the connected-route interface that reaches
// nextHop, the reachability check spec.md §4.2 requires of static/default
// routes at install time.
func (r *Router) connectedIfaceFor(nextHop ipcore.IPv4Addr) (string, bool) {
	for _, rt := range r.fib.All() {
		if rt.Kind == fib.KindConnected && nextHop.InSameSubnet(rt.Network, rt.Mask) {
			return rt.Iface, true
		}
	}
	return "", false
}

// routeToward resolves the outgoing interface and next hop for a
// self-originated datagram addressed to dst (ICMP replies/errors, whose
// destination may be any number of hops away), via an ordinary FIB lookup.
func (r *Router) routeToward(dst ipcore.IPv4Addr) (outIface string, nextHop ipcore.IPv4Addr, ok bool) {
	route, ok := r.fib.Lookup(dst)
	if !ok {
		return "", ipcore.IPv4Addr{}, false
	}
	nextHop = dst
	if route.HasNextHop {
		nextHop = route.NextHop
	}
	return route.Iface, nextHop, true
}

// AddStaticRoute installs a static route to (network, mask) via nextHop,
// failing with ipcore.ErrNextHopUnreachable if nextHop is not reachable via
// any currently configured connected route.
func (r *Router) AddStaticRoute(network, mask, nextHop ipcore.IPv4Addr, metric uint32) error {
	ifaceName, ok := r.connectedIfaceFor(nextHop)
	if !ok {
		return ipcore.ErrNextHopUnreachable
	}
	return r.fib.Insert(fib.Route{
		Network: network, Mask: mask,
		NextHop: nextHop, HasNextHop: true,
		Iface: ifaceName, Kind: fib.KindStatic, AD: fib.ADStatic, Metric: metric,
	})
}

// SetDefaultRoute replaces the router's default route (0.0.0.0/0) with one
// via nextHop, failing with ipcore.ErrNextHopUnreachable if unreachable.
func (r *Router) SetDefaultRoute(nextHop ipcore.IPv4Addr, metric uint32) error {
	ifaceName, ok := r.connectedIfaceFor(nextHop)
	if !ok {
		return ipcore.ErrNextHopUnreachable
	}
	r.fib.RemoveWhere(func(rt fib.Route) bool { return rt.Kind == fib.KindDefault })
	return r.fib.Insert(fib.Route{
		Network: ipcore.IPv4Addr{}, Mask: ipcore.IPv4Addr{},
		NextHop: nextHop, HasNextHop: true,
		Iface: ifaceName, Kind: fib.KindDefault, AD: 1, Metric: metric,
	})
}

// EnableRIP starts the RIPv2 engine with cfg as given; zero-value fields are
// not replaced by defaults, so callers start from rip.DefaultConfig().
func (r *Router) EnableRIP(cfg rip.Config) {
	r.rip.Enable(cfg)
}

// DisableRIP stops the RIPv2 engine and removes every RIP-learned route.
func (r *Router) DisableRIP() {
	r.rip.Disable()
}

// RIPAdvertiseNetwork adds (network, mask) to the set of networks RIP
// advertises into/accepts from, determining which interfaces are RIP-enabled.
// It never fails: spec.md §7 names only UnknownInterface/NextHopUnreachable
// as configuration failure reasons, neither of which applies here.
func (r *Router) RIPAdvertiseNetwork(network, mask ipcore.IPv4Addr) error {
	r.rip.AdvertiseNetwork(network, mask)
	return nil
}

// RoutingTable returns a snapshot of every FIB route.
func (r *Router) RoutingTable() []fib.Route { return r.fib.All() }

// ARPTable returns a snapshot of the ARP cache, keyed by dotted-decimal IP.
func (r *Router) ARPTable() map[string]arp.CacheEntry { return r.resolver.Snapshot() }

// RIPRoutes returns a snapshot of RIP-learned route state.
func (r *Router) RIPRoutes() []rip.RouteSnapshot { return r.rip.Routes() }

// Counters returns a copy of the router's traffic/error counters.
func (r *Router) Counters() counters.Counters { return r.counters.Snapshot() }

// GetOSType reports the router's identification string, as an external shell
// might query to select vendor-specific command syntax.
func (r *Router) GetOSType() string { return r.osType }

// ExecuteCommand is an opaque passthrough to a vendor shell interface: the
// shell reads the router's views above and may call its mutating operations.
// This router has no shell wired in; callers needing one should build it
// against the views and operations exported here.
func (r *Router) ExecuteCommand(line string) (string, error) {
	r.debug("ExecuteCommand:unhandled", slog.String("line", line))
	return "", errNoShell
}

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
