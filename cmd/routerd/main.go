// Command routerd runs a packetgrid/ipcore router against real network
// interfaces, configured from a YAML topology manifest.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/packetgrid/ipcore/internal/config"
	"github.com/packetgrid/ipcore/internal/transport"
	"github.com/packetgrid/ipcore/router"
	"github.com/packetgrid/ipcore/timer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalln("routerd:", err)
	}
}

func run() error {
	topoPath := flag.String("topology", "topology.yaml", "path to the YAML topology manifest")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	topo, err := config.Load(*topoPath)
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	var mu sync.Mutex
	clock := timer.NewReal(&mu)

	ports := make(map[string]transport.Port)
	var portsMu sync.Mutex
	sink := func(outIface string, frame []byte) {
		portsMu.Lock()
		p, ok := ports[outIface]
		portsMu.Unlock()
		if !ok {
			logger.Warn("routerd: no transport for outgoing interface", slog.String("iface", outIface))
			return
		}
		if err := p.Send(frame); err != nil {
			logger.Error("routerd: send failed", slog.String("iface", outIface), slog.String("err", err.Error()))
		}
	}

	r := router.New(clock, sink, logger)
	if err := topo.Apply(r); err != nil {
		return fmt.Errorf("applying topology: %w", err)
	}

	for _, ifc := range topo.Interfaces {
		sock, err := transport.NewRawSocket(ifc.Name)
		if err != nil {
			return fmt.Errorf("opening %s: %w", ifc.Name, err)
		}
		portsMu.Lock()
		ports[ifc.Name] = sock
		portsMu.Unlock()
		defer sock.Close()

		go readLoop(logger, r, &mu, ifc.Name, sock)
	}

	logger.Info("routerd: running", slog.Int("interfaces", len(topo.Interfaces)))
	select {}
}

func readLoop(logger *slog.Logger, r *router.Router, mu *sync.Mutex, name string, port transport.Port) {
	buf := make([]byte, 65536)
	for {
		n, err := port.Recv(buf)
		if err != nil {
			logger.Error("routerd: recv failed", slog.String("iface", name), slog.String("err", err.Error()))
			return
		}
		mu.Lock()
		r.HandleFrame(name, buf[:n])
		mu.Unlock()
	}
}
