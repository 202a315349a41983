// Package config loads a router topology from a YAML manifest and applies
// it to a router.Router purely through that router's public configuration
// operations — it never reaches into router-internal state.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/packetgrid/ipcore"
	"github.com/packetgrid/ipcore/rip"
	"github.com/packetgrid/ipcore/router"
	"gopkg.in/yaml.v3"
)

// Topology is the on-disk shape of a router manifest.
type Topology struct {
	Interfaces   []InterfaceSpec `yaml:"interfaces"`
	StaticRoutes []StaticRoute   `yaml:"static_routes"`
	DefaultRoute *DefaultRoute   `yaml:"default_route"`
	RIP          *RIPSpec        `yaml:"rip"`
}

type InterfaceSpec struct {
	Name string `yaml:"name"`
	MAC  string `yaml:"mac"`
	IP   string `yaml:"ip"`
	Mask string `yaml:"mask"`
	MTU  int    `yaml:"mtu"`
}

type StaticRoute struct {
	Network string `yaml:"network"`
	Mask    string `yaml:"mask"`
	NextHop string `yaml:"next_hop"`
	Metric  uint32 `yaml:"metric"`
}

type DefaultRoute struct {
	NextHop string `yaml:"next_hop"`
	Metric  uint32 `yaml:"metric"`
}

type RIPSpec struct {
	Enabled         bool          `yaml:"enabled"`
	UpdateInterval  time.Duration `yaml:"update_interval"`
	RouteTimeout    time.Duration `yaml:"route_timeout"`
	GCTimeout       time.Duration `yaml:"gc_timeout"`
	SplitHorizon    *bool         `yaml:"split_horizon"`
	PoisonedReverse *bool         `yaml:"poisoned_reverse"`
	Advertise       []NetworkSpec `yaml:"advertise"`
}

type NetworkSpec struct {
	Network string `yaml:"network"`
	Mask    string `yaml:"mask"`
}

// Load reads and parses a topology manifest from path.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &t, nil
}

// Apply configures r to match the topology: interfaces first (so later
// routes can resolve their next hop), then static/default routes, then RIP.
func (t *Topology) Apply(r *router.Router) error {
	for _, ifc := range t.Interfaces {
		mac, err := parseMAC(ifc.MAC)
		if err != nil {
			return fmt.Errorf("config: interface %s: %w", ifc.Name, err)
		}
		if err := r.DeclareInterface(ifc.Name, mac, ifc.MTU); err != nil {
			return fmt.Errorf("config: declare %s: %w", ifc.Name, err)
		}
		if ifc.IP == "" {
			continue
		}
		ip, err := parseIP(ifc.IP)
		if err != nil {
			return fmt.Errorf("config: interface %s ip: %w", ifc.Name, err)
		}
		mask, err := parseIP(ifc.Mask)
		if err != nil {
			return fmt.Errorf("config: interface %s mask: %w", ifc.Name, err)
		}
		if err := r.ConfigureInterface(ifc.Name, ip, mask); err != nil {
			return fmt.Errorf("config: configure %s: %w", ifc.Name, err)
		}
	}

	for _, sr := range t.StaticRoutes {
		network, err := parseIP(sr.Network)
		if err != nil {
			return fmt.Errorf("config: static route network: %w", err)
		}
		mask, err := parseIP(sr.Mask)
		if err != nil {
			return fmt.Errorf("config: static route mask: %w", err)
		}
		nextHop, err := parseIP(sr.NextHop)
		if err != nil {
			return fmt.Errorf("config: static route next hop: %w", err)
		}
		if err := r.AddStaticRoute(network, mask, nextHop, sr.Metric); err != nil {
			return fmt.Errorf("config: add static route %s/%s via %s: %w", sr.Network, sr.Mask, sr.NextHop, err)
		}
	}

	if t.DefaultRoute != nil {
		nextHop, err := parseIP(t.DefaultRoute.NextHop)
		if err != nil {
			return fmt.Errorf("config: default route: %w", err)
		}
		if err := r.SetDefaultRoute(nextHop, t.DefaultRoute.Metric); err != nil {
			return fmt.Errorf("config: set default route via %s: %w", t.DefaultRoute.NextHop, err)
		}
	}

	if t.RIP != nil && t.RIP.Enabled {
		cfg := rip.DefaultConfig()
		if t.RIP.UpdateInterval > 0 {
			cfg.UpdateInterval = t.RIP.UpdateInterval
		}
		if t.RIP.RouteTimeout > 0 {
			cfg.RouteTimeout = t.RIP.RouteTimeout
		}
		if t.RIP.GCTimeout > 0 {
			cfg.GCTimeout = t.RIP.GCTimeout
		}
		if t.RIP.SplitHorizon != nil {
			cfg.SplitHorizon = *t.RIP.SplitHorizon
		}
		if t.RIP.PoisonedReverse != nil {
			cfg.PoisonedReverse = *t.RIP.PoisonedReverse
		}
		r.EnableRIP(cfg)
		for _, n := range t.RIP.Advertise {
			network, err := parseIP(n.Network)
			if err != nil {
				return fmt.Errorf("config: rip advertise network: %w", err)
			}
			mask, err := parseIP(n.Mask)
			if err != nil {
				return fmt.Errorf("config: rip advertise mask: %w", err)
			}
			if err := r.RIPAdvertiseNetwork(network, mask); err != nil {
				return fmt.Errorf("config: rip advertise %s/%s: %w", n.Network, n.Mask, err)
			}
		}
	}

	return nil
}

func parseIP(s string) (ipcore.IPv4Addr, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return ipcore.IPv4Addr{}, fmt.Errorf("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return ipcore.IPv4Addr{}, fmt.Errorf("not an IPv4 address %q", s)
	}
	return ipcore.IPv4Addr{v4[0], v4[1], v4[2], v4[3]}, nil
}

func parseMAC(s string) (ipcore.HWAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return ipcore.HWAddr{}, err
	}
	if len(hw) != 6 {
		return ipcore.HWAddr{}, fmt.Errorf("not a 6-byte MAC %q", s)
	}
	return ipcore.HWAddr{hw[0], hw[1], hw[2], hw[3], hw[4], hw[5]}, nil
}
