package rip

import (
	"time"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/fib"
	"github.com/packetgrid/ipcore/iface"
	"github.com/packetgrid/ipcore/timer"
)

// Config holds the RIPv2 engine's tunables (spec.md §3 RIP config).
type Config struct {
	UpdateInterval   time.Duration
	RouteTimeout     time.Duration
	GCTimeout        time.Duration
	SplitHorizon     bool
	PoisonedReverse  bool
}

// DefaultConfig returns the spec-pinned default tunables.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:  30 * time.Second,
		RouteTimeout:    180 * time.Second,
		GCTimeout:       120 * time.Second,
		SplitHorizon:    true,
		PoisonedReverse: true,
	}
}

// OutEntry is one route as it appears in an outgoing RIP message, decoupled
// from wire encoding so the engine doesn't need to know about buffers.
type OutEntry struct {
	Network ipcore.IPv4Addr
	Mask    ipcore.IPv4Addr
	Metric  uint32
}

// SendFunc emits a RIP message of the given command carrying entries out
// iface. The engine calls this synchronously, from within HandleMessage,
// Enable, or a timer callback; the caller (the router facade) is responsible
// for chunking into the wire's 25-entry cap, UDP/IP/Ethernet encapsulation,
// and delivery (possibly via ARP resolution).
type SendFunc func(outIface string, command Command, entries []OutEntry)

type advertisedNet struct {
	network ipcore.IPv4Addr
	mask    ipcore.IPv4Addr
}

type routeKey struct {
	network ipcore.IPv4Addr
	mask    ipcore.IPv4Addr
}

type routeState struct {
	learnedFrom    ipcore.IPv4Addr
	learnedOnIface string
	metric         uint32
	gcFlag         bool
	timeoutHandle  timer.Handle
	gcHandle       timer.Handle
}

// Engine is the router's RIPv2 routing-protocol engine: it owns RIP route
// state, advertised-network configuration, and the update/timeout/GC timers,
// mutating the shared FIB in step with spec.md's state machine (Active,
// Invalid, Gone).
type Engine struct {
	fib    *fib.FIB
	ifaces *iface.Table
	clock  timer.Timer
	send   SendFunc
	cfg    Config

	enabled      bool
	updateHandle timer.Handle
	advertised   []advertisedNet
	states       map[routeKey]*routeState
}

// NewEngine constructs a disabled Engine bound to f and ifaces.
func NewEngine(f *fib.FIB, ifaces *iface.Table, clock timer.Timer, send SendFunc) *Engine {
	return &Engine{
		fib:    f,
		ifaces: ifaces,
		clock:  clock,
		send:   send,
		cfg:    DefaultConfig(),
		states: make(map[routeKey]*routeState),
	}
}

// AdvertiseNetwork adds (network, mask) to the set of networks this router
// advertises into/accepts RIP from, used to decide which interfaces are
// RIP-enabled (spec.md §4.6 "RIP-enabled interface"), and immediately
// recomputes eligibility on every declared port.
func (e *Engine) AdvertiseNetwork(network, mask ipcore.IPv4Addr) {
	e.advertised = append(e.advertised, advertisedNet{network, mask})
	e.syncEligibility()
}

// matchesAdvertised reports whether port's connected network is contained in
// some advertised network: (port_net & cfg_mask) == cfg_net.
func (e *Engine) matchesAdvertised(p iface.Port) bool {
	portNet := p.IP.And(p.Mask)
	for _, a := range e.advertised {
		if portNet.And(a.mask) == a.network {
			return true
		}
	}
	return false
}

// syncEligibility recomputes and stores each port's RIP-enabled flag in the
// interface table so it's visible to external introspection too.
func (e *Engine) syncEligibility() {
	for _, p := range e.ifaces.All() {
		e.ifaces.SetRIPEnabled(p.Name, e.matchesAdvertised(p))
	}
}

// ripEnabledIface reports whether p currently participates in RIP exchanges.
func (e *Engine) ripEnabledIface(p iface.Port) bool {
	return p.RIPEnabled
}

// RefreshEligibility recomputes RIP eligibility on every port, used after an
// interface is (re)configured so its connected network is re-checked against
// the advertised-network set.
func (e *Engine) RefreshEligibility() {
	e.syncEligibility()
}

// Enable installs the periodic update timer and sends an initial RIP Request
// on every RIP-enabled interface.
func (e *Engine) Enable(cfg Config) {
	e.cfg = cfg
	e.enabled = true
	e.syncEligibility()
	e.updateHandle = e.clock.SchedulePeriodic(cfg.UpdateInterval, e.onPeriodicTick)
	for _, p := range e.ifaces.All() {
		if !p.Up || !e.ripEnabledIface(p) {
			continue
		}
		e.send(p.Name, CommandRequest, []OutEntry{{
			Network: ipcore.IPv4Addr{},
			Mask:    ipcore.IPv4Addr{},
			Metric:  ipcore.RIPMetricInfinity,
		}})
	}
}

// Disable cancels the update timer and every per-route timer, removes all
// kind=rip routes from the FIB, and clears RIP route state.
func (e *Engine) Disable() {
	if !e.enabled {
		return
	}
	e.enabled = false
	e.clock.Cancel(e.updateHandle)
	for _, st := range e.states {
		e.clock.Cancel(st.timeoutHandle)
		e.clock.Cancel(st.gcHandle)
	}
	e.states = make(map[routeKey]*routeState)
	e.fib.RemoveWhere(func(r fib.Route) bool { return r.Kind == fib.KindRIP })
}

// Enabled reports whether the RIP engine is currently running.
func (e *Engine) Enabled() bool { return e.enabled }

// buildUpdateEntries constructs the entry list for an Update/triggered update
// destined for outIface, applying split horizon and poisoned reverse.
func (e *Engine) buildUpdateEntries(outIface string, only *fib.Route) []OutEntry {
	var out []OutEntry
	consider := func(r fib.Route) {
		if r.Kind == fib.KindRIP && r.Metric >= ipcore.RIPMetricInfinity {
			return
		}
		if e.cfg.SplitHorizon && r.Iface == outIface {
			if e.cfg.PoisonedReverse && r.Kind == fib.KindRIP {
				out = append(out, OutEntry{Network: r.Network, Mask: r.Mask, Metric: ipcore.RIPMetricInfinity})
			}
			return
		}
		metric := uint32(1)
		if r.Kind != fib.KindConnected {
			metric = r.Metric + 1
			if metric > ipcore.RIPMetricInfinity {
				metric = ipcore.RIPMetricInfinity
			}
		}
		out = append(out, OutEntry{Network: r.Network, Mask: r.Mask, Metric: metric})
	}
	if only != nil {
		consider(*only)
		return out
	}
	for _, r := range e.fib.All() {
		consider(r)
	}
	return out
}

// SendUpdate emits a full Update on iface outIface.
func (e *Engine) SendUpdate(outIface string) {
	entries := e.buildUpdateEntries(outIface, nil)
	e.send(outIface, CommandResponse, entries)
}

// onPeriodicTick sends a full Update on every RIP-enabled interface.
func (e *Engine) onPeriodicTick() {
	for _, p := range e.ifaces.All() {
		if !p.Up || !e.ripEnabledIface(p) {
			continue
		}
		e.SendUpdate(p.Name)
	}
}

// HandleRequest responds to a Request on inIface with a full Update, per the
// same split-horizon rules as any other Update.
func (e *Engine) HandleRequest(inIface string) {
	e.SendUpdate(inIface)
}

// HandleResponseEntry processes one route entry from a Response received on
// inIface from source srcIP, per spec.md §4.6 "Process Response entry".
func (e *Engine) HandleResponseEntry(inIface string, srcIP ipcore.IPv4Addr, afi AFI, network, mask ipcore.IPv4Addr, metric uint32) {
	if (afi != AFIInet && afi != AFIUnspecified) || metric < 1 || metric > ipcore.RIPMetricInfinity {
		return
	}
	newMetric := metric
	if newMetric > ipcore.RIPMetricInfinity {
		newMetric = ipcore.RIPMetricInfinity
	}

	for _, r := range e.fib.All() {
		if r.Kind == fib.KindConnected && r.Network == network && r.Mask == mask {
			return // a connected route shadows anything RIP learns for the same prefix.
		}
	}

	key := routeKey{network, mask}
	st, exists := e.states[key]

	switch {
	case !exists && newMetric < ipcore.RIPMetricInfinity:
		e.installRoute(key, inIface, srcIP, newMetric)

	case exists && st.learnedFrom == srcIP:
		e.refreshRoute(key, st, newMetric)

	case exists && st.learnedFrom != srcIP && newMetric < st.metric:
		e.clock.Cancel(st.timeoutHandle)
		e.clock.Cancel(st.gcHandle)
		e.fib.RemoveWhere(func(r fib.Route) bool { return r.Network == network && r.Mask == mask && r.Kind == fib.KindRIP })
		delete(e.states, key)
		if newMetric < ipcore.RIPMetricInfinity {
			e.installRoute(key, inIface, srcIP, newMetric)
		}
	}
}

func (e *Engine) installRoute(key routeKey, inIface string, srcIP ipcore.IPv4Addr, metric uint32) {
	e.fib.Insert(fib.Route{
		Network: key.network, Mask: key.mask,
		NextHop: srcIP, HasNextHop: true,
		Iface: inIface, Kind: fib.KindRIP, AD: fib.ADRIP, Metric: metric,
	})
	st := &routeState{learnedFrom: srcIP, learnedOnIface: inIface, metric: metric}
	st.timeoutHandle = e.clock.ScheduleOnce(e.cfg.RouteTimeout, func() { e.onTimeout(key) })
	e.states[key] = st
}

func (e *Engine) refreshRoute(key routeKey, st *routeState, newMetric uint32) {
	st.metric = newMetric
	if newMetric >= ipcore.RIPMetricInfinity {
		e.enterInvalid(key, st)
		return
	}
	e.clock.Cancel(st.timeoutHandle)
	st.timeoutHandle = e.clock.ScheduleOnce(e.cfg.RouteTimeout, func() { e.onTimeout(key) })
	e.fib.RemoveWhere(func(r fib.Route) bool { return r.Network == key.network && r.Mask == key.mask && r.Kind == fib.KindRIP })
	e.fib.Insert(fib.Route{
		Network: key.network, Mask: key.mask,
		NextHop: st.learnedFrom, HasNextHop: true,
		Iface: st.learnedOnIface, Kind: fib.KindRIP, AD: fib.ADRIP, Metric: newMetric,
	})
}

// onTimeout is the RouteTimeout callback: enters Invalid.
func (e *Engine) onTimeout(key routeKey) {
	st, ok := e.states[key]
	if !ok {
		return // already removed by GC or a replacing update; guard against the race.
	}
	e.enterInvalid(key, st)
}

// enterInvalid sets the route's metric to 16 in the FIB, starts the GC
// timer, and emits a triggered update carrying only this route.
func (e *Engine) enterInvalid(key routeKey, st *routeState) {
	st.gcFlag = true
	st.metric = ipcore.RIPMetricInfinity
	e.clock.Cancel(st.timeoutHandle)
	e.fib.RemoveWhere(func(r fib.Route) bool { return r.Network == key.network && r.Mask == key.mask && r.Kind == fib.KindRIP })
	e.fib.Insert(fib.Route{
		Network: key.network, Mask: key.mask,
		NextHop: st.learnedFrom, HasNextHop: true,
		Iface: st.learnedOnIface, Kind: fib.KindRIP, AD: fib.ADRIP, Metric: ipcore.RIPMetricInfinity,
	})
	st.gcHandle = e.clock.ScheduleOnce(e.cfg.GCTimeout, func() { e.onGC(key) })
	e.emitTriggeredUpdate(key)
}

func (e *Engine) emitTriggeredUpdate(key routeKey) {
	r, ok := e.fib.Lookup(key.network)
	if !ok || r.Network != key.network || r.Mask != key.mask {
		return
	}
	for _, p := range e.ifaces.All() {
		if !p.Up || !e.ripEnabledIface(p) {
			continue
		}
		entries := e.buildUpdateEntries(p.Name, &r)
		if len(entries) > 0 {
			e.send(p.Name, CommandResponse, entries)
		}
	}
}

// onGC is the GCTimeout callback: removes the route and its state entirely.
func (e *Engine) onGC(key routeKey) {
	if _, ok := e.states[key]; !ok {
		return
	}
	delete(e.states, key)
	e.fib.RemoveWhere(func(r fib.Route) bool { return r.Network == key.network && r.Mask == key.mask && r.Kind == fib.KindRIP })
}

// RouteSnapshot is a read-only view of one RIP-learned route's state.
type RouteSnapshot struct {
	Network     ipcore.IPv4Addr
	Mask        ipcore.IPv4Addr
	LearnedFrom ipcore.IPv4Addr
	Iface       string
	Metric      uint32
	GCFlag      bool
}

// Routes returns a snapshot of every RIP-learned route's engine-side state.
func (e *Engine) Routes() []RouteSnapshot {
	out := make([]RouteSnapshot, 0, len(e.states))
	for key, st := range e.states {
		out = append(out, RouteSnapshot{
			Network: key.network, Mask: key.mask,
			LearnedFrom: st.learnedFrom, Iface: st.learnedOnIface,
			Metric: st.metric, GCFlag: st.gcFlag,
		})
	}
	return out
}
