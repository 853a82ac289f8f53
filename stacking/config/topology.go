// Copyright 2026 Stackmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the stackd configuration: the
// service configuration in TOML and the stack topology document in YAML.
package config

import (
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/stackmesh/stackmesh/pkg/private/serrors"
	"github.com/stackmesh/stackmesh/stacking/topo"
	"github.com/stackmesh/stackmesh/stacking/tunnel"
)

// Document mirrors the topology configuration file. It declares the
// datapaths, their stack wiring and the configured tunnels.
type Document struct {
	Datapaths []DatapathConfig `yaml:"dps"`
	Tunnels   []TunnelConfig   `yaml:"tunnels,omitempty"`
}

// DatapathConfig declares one datapath.
type DatapathConfig struct {
	Name string `yaml:"name"`
	DPID uint64 `yaml:"dp_id"`
	// Priority is the root candidacy rank, lower wins. Zero means the
	// datapath is not a root candidate.
	Priority int `yaml:"priority,omitempty"`
	// RootDownTimeMultiple is the number of health check intervals without
	// a liveness signal after which the datapath is considered unhealthy.
	RootDownTimeMultiple int `yaml:"root_down_time_multiple,omitempty"`
	// HasExternals marks datapaths with external-loop-protected ports.
	HasExternals bool              `yaml:"has_externals,omitempty"`
	StackPorts   []PortConfig      `yaml:"stack_ports"`
	LAGPorts     []LAGPortConfig   `yaml:"lag_ports,omitempty"`
}

// PortConfig declares one stack port and its configured peer.
type PortConfig struct {
	Number   uint32 `yaml:"number"`
	Name     string `yaml:"name,omitempty"`
	PeerDP   string `yaml:"peer_dp"`
	PeerPort uint32 `yaml:"peer_port"`
}

// LAGPortConfig declares a member port of an aggregated link group.
type LAGPortConfig struct {
	Number uint32 `yaml:"number"`
	Group  uint32 `yaml:"lacp"`
}

// TunnelConfig declares one point-to-point tunnel.
type TunnelConfig struct {
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Dest     string `yaml:"dest"`
	DestPort uint32 `yaml:"dest_port"`
}

// LoadTopology reads and validates a topology document.
func LoadTopology(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading topology file", err, "file", path)
	}
	var doc Document
	if err := yaml.UnmarshalStrict(raw, &doc); err != nil {
		return nil, serrors.Wrap("parsing topology file", err, "file", path)
	}
	if err := doc.Validate(); err != nil {
		return nil, serrors.Wrap("validating topology file", err, "file", path)
	}
	return &doc, nil
}

// Validate checks the document for consistency. In particular, every
// stack link must be declared from both endpoints; a link declared from
// only one side is rejected here and never reaches the runtime graph.
func (d *Document) Validate() error {
	if len(d.Datapaths) == 0 {
		return serrors.New("no datapaths configured")
	}
	byName := make(map[string]*DatapathConfig)
	byID := make(map[uint64]string)
	candidates := 0
	for i := range d.Datapaths {
		dp := &d.Datapaths[i]
		if dp.Name == "" {
			return serrors.New("datapath without name")
		}
		if _, ok := byName[dp.Name]; ok {
			return serrors.New("duplicate datapath name", "dp", dp.Name)
		}
		if other, ok := byID[dp.DPID]; ok {
			return serrors.New("duplicate datapath id",
				"dp_id", dp.DPID, "dp", dp.Name, "other", other)
		}
		if dp.Priority < 0 {
			return serrors.New("negative priority", "dp", dp.Name)
		}
		byName[dp.Name] = dp
		byID[dp.DPID] = dp.Name
		if dp.Priority > 0 {
			candidates++
		}
		ports := make(map[uint32]bool)
		for _, p := range dp.StackPorts {
			if ports[p.Number] {
				return serrors.New("duplicate stack port",
					"dp", dp.Name, "port", p.Number)
			}
			ports[p.Number] = true
		}
		for _, p := range dp.LAGPorts {
			if ports[p.Number] {
				return serrors.New("port is both stack and lag member",
					"dp", dp.Name, "port", p.Number)
			}
			ports[p.Number] = true
		}
	}
	if candidates == 0 {
		return serrors.New("no root candidate configured")
	}
	for _, dp := range d.Datapaths {
		for _, p := range dp.StackPorts {
			peer, ok := byName[p.PeerDP]
			if !ok {
				return serrors.New("stack port references unknown peer",
					"dp", dp.Name, "port", p.Number, "peer_dp", p.PeerDP)
			}
			if !declares(peer, p.PeerPort, dp.Name, p.Number) {
				return serrors.New("stack link missing reciprocal declaration",
					"dp", dp.Name, "port", p.Number,
					"peer_dp", p.PeerDP, "peer_port", p.PeerPort)
			}
		}
	}
	for _, t := range d.Tunnels {
		if t.Name == "" {
			return serrors.New("tunnel without name")
		}
		if _, ok := byName[t.Source]; !ok {
			return serrors.New("tunnel references unknown source",
				"tunnel", t.Name, "source", t.Source)
		}
		if _, ok := byName[t.Dest]; !ok {
			return serrors.New("tunnel references unknown dest",
				"tunnel", t.Name, "dest", t.Dest)
		}
		if t.DestPort == 0 {
			return serrors.New("tunnel without dest port", "tunnel", t.Name)
		}
	}
	return nil
}

func declares(dp *DatapathConfig, port uint32, peerDP string, peerPort uint32) bool {
	for _, p := range dp.StackPorts {
		if p.Number == port && p.PeerDP == peerDP && p.PeerPort == peerPort {
			return true
		}
	}
	return false
}

// Build converts the document into the runtime topology, with ports in
// canonical order.
func (d *Document) Build() map[string]*topo.Datapath {
	dps := make(map[string]*topo.Datapath, len(d.Datapaths))
	for _, c := range d.Datapaths {
		dp := &topo.Datapath{
			Name:                 c.Name,
			ID:                   c.DPID,
			Priority:             c.Priority,
			RootDownTimeMultiple: c.RootDownTimeMultiple,
			HasExternals:         c.HasExternals,
		}
		if dp.RootDownTimeMultiple == 0 {
			dp.RootDownTimeMultiple = topo.DefaultRootDownTimeMultiple
		}
		for _, p := range c.StackPorts {
			dp.Ports = append(dp.Ports, &topo.StackPort{
				Number: p.Number,
				Name:   p.Name,
				Peer:   topo.PeerRef{Datapath: p.PeerDP, Port: p.PeerPort},
			})
		}
		topo.SortPorts(dp.Ports, nil)
		dps[c.Name] = dp
	}
	return dps
}

// BuildTunnels converts the tunnel declarations, sorted by name.
func (d *Document) BuildTunnels() []tunnel.Tunnel {
	tunnels := make([]tunnel.Tunnel, 0, len(d.Tunnels))
	for _, t := range d.Tunnels {
		tunnels = append(tunnels, tunnel.Tunnel{
			Name:     t.Name,
			Source:   t.Source,
			Dest:     t.Dest,
			DestPort: t.DestPort,
		})
	}
	sort.Slice(tunnels, func(i, j int) bool { return tunnels[i].Name < tunnels[j].Name })
	return tunnels
}

// LAGGroups returns the aggregated link groups of the datapath as group
// id to member ports.
func (d *Document) LAGGroups(dp string) map[uint32][]uint32 {
	groups := make(map[uint32][]uint32)
	for _, c := range d.Datapaths {
		if c.Name != dp {
			continue
		}
		for _, p := range c.LAGPorts {
			groups[p.Group] = append(groups[p.Group], p.Number)
		}
	}
	if len(groups) == 0 {
		return nil
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	}
	return groups
}
