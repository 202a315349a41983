package arp

import (
	"testing"
	"time"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/timer"
)

func TestResolverCoalescing(t *testing.T) {
	clk := timer.NewManual(time.Unix(0, 0))
	r := NewResolver(clk)
	dst := ipcore.IPv4Addr{10, 0, 1, 2}

	need1 := r.Enqueue(dst, "eth1", []byte("pkt1"), nil)
	need2 := r.Enqueue(dst, "eth1", []byte("pkt2"), nil)
	need3 := r.Enqueue(dst, "eth1", []byte("pkt3"), nil)
	if !need1 {
		t.Fatal("first enqueue must request resolution")
	}
	if need2 || need3 {
		t.Fatal("subsequent enqueues to an in-flight IP must not re-request")
	}

	r.Learn(dst, ipcore.HWAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02}, "eth1")
	drained := r.Drain(dst)
	if len(drained) != 3 {
		t.Fatalf("expected 3 queued packets, got %d", len(drained))
	}
	if string(drained[0].Frame) != "pkt1" || string(drained[1].Frame) != "pkt2" || string(drained[2].Frame) != "pkt3" {
		t.Fatal("packets must drain in original enqueue order")
	}

	needAgain := r.Enqueue(dst, "eth1", []byte("pkt4"), nil)
	if !needAgain {
		t.Fatal("a new packet after full drain must trigger a fresh request")
	}
}

func TestResolverExpiry(t *testing.T) {
	clk := timer.NewManual(time.Unix(0, 0))
	r := NewResolver(clk)
	dst := ipcore.IPv4Addr{10, 0, 1, 2}

	r.Enqueue(dst, "eth1", []byte("pkt1"), nil)
	clk.Advance(PendingPacketTTL + time.Second)

	drained := r.Drain(dst)
	if len(drained) != 0 {
		t.Fatalf("expired packet should have been dropped, got %d", len(drained))
	}
}

func TestResolverLookup(t *testing.T) {
	clk := timer.NewManual(time.Unix(0, 0))
	r := NewResolver(clk)
	ip := ipcore.IPv4Addr{192, 168, 1, 1}
	if _, ok := r.Lookup(ip); ok {
		t.Fatal("unpopulated cache should miss")
	}
	mac := ipcore.HWAddr{0xde, 0xad, 0xbe, 0xef, 0, 1}
	r.Learn(ip, mac, "eth0")
	e, ok := r.Lookup(ip)
	if !ok || e.MAC != mac || e.Iface != "eth0" {
		t.Fatalf("unexpected entry: %+v ok=%v", e, ok)
	}
}
