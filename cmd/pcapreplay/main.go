// Command pcapreplay feeds the Ethernet frames recorded in a pcap file
// through a router.Router, one HandleFrame call per captured packet, for
// offline testing of routing/ICMP/RIP behavior against real traffic.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/packetgrid/ipcore/internal/config"
	"github.com/packetgrid/ipcore/router"
	"github.com/packetgrid/ipcore/timer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalln("pcapreplay:", err)
	}
}

func run() error {
	input := flag.String("input", "", "pcap file to replay (required)")
	topoPath := flag.String("topology", "", "optional YAML topology manifest to apply before replay")
	ingress := flag.String("iface", "eth0", "interface name frames are replayed as arriving on")
	realtime := flag.Bool("realtime", false, "pace replay using the pcap's own packet timestamps")
	flag.Parse()

	if *input == "" {
		return fmt.Errorf("-input is required")
	}

	f, err := os.Open(*input)
	if err != nil {
		return fmt.Errorf("opening %s: %w", *input, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading pcap header: %w", err)
	}
	if reader.LinkType() != layers.LinkTypeEthernet {
		return fmt.Errorf("unsupported link type %s, only Ethernet pcaps are replayable", reader.LinkType())
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	clock := timer.NewManual(time.Now())
	sink := func(outIface string, frame []byte) {
		logger.Info("pcapreplay: egress", slog.String("iface", outIface), slog.Int("len", len(frame)))
	}
	r := router.New(clock, sink, logger)

	if *topoPath != "" {
		topo, err := config.Load(*topoPath)
		if err != nil {
			return fmt.Errorf("loading topology: %w", err)
		}
		if err := topo.Apply(r); err != nil {
			return fmt.Errorf("applying topology: %w", err)
		}
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	var prev time.Time
	var n int
	for packet := range source.Packets() {
		ci := packet.Metadata().CaptureInfo
		if *realtime && !prev.IsZero() {
			if d := ci.Timestamp.Sub(prev); d > 0 {
				time.Sleep(d)
			}
		}
		prev = ci.Timestamp
		r.HandleFrame(*ingress, packet.Data())
		n++
	}
	logger.Info("pcapreplay: done", slog.Int("packets", n))
	return nil
}
