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

package stacking

import (
	"time"

	"github.com/stackmesh/stackmesh/stacking/graph"
)

// PortStatusInfo describes one stack port in a status snapshot.
type PortStatusInfo struct {
	Number   uint32    `json:"number"`
	Name     string    `json:"name,omitempty"`
	PeerDP   string    `json:"peer_dp"`
	PeerPort uint32    `json:"peer_port"`
	State    string    `json:"state"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// DatapathStatus describes one datapath in a status snapshot.
type DatapathStatus struct {
	DPID        uint64           `json:"dp_id"`
	IsRoot      bool             `json:"is_root"`
	RootHopPort uint32           `json:"root_hop_port"`
	LastLive    time.Time        `json:"last_live,omitempty"`
	Ports       []PortStatusInfo `json:"ports"`
}

// Status is a point-in-time view of the whole stack.
type Status struct {
	Root           string                    `json:"root"`
	RootCandidates []string                  `json:"root_candidates"`
	FloodStrategy  string                    `json:"flood_strategy"`
	Graph          graph.NodeLinkData        `json:"graph"`
	TopologyHash   uint64                    `json:"topology_hash"`
	Datapaths      map[string]DatapathStatus `json:"dps"`
}

// Status returns a consistent snapshot of the stack state.
func (c *Coordinator) Status() Status {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.g == nil {
		return Status{Datapaths: map[string]DatapathStatus{}}
	}
	st := Status{
		Root:           c.rootName,
		RootCandidates: c.rootsNames,
		Graph:          c.g.NodeLink(),
		TopologyHash:   c.g.Hash(),
		Datapaths:      make(map[string]DatapathStatus, len(c.names)),
	}
	if c.strategy != nil {
		st.FloodStrategy = c.strategy.Name()
	}
	for _, name := range c.names {
		s := c.dps[name]
		sets := s.classifier.Classify(c.rootName, s.monitor.UpPorts())
		ds := DatapathStatus{
			DPID:        s.conf.ID,
			IsRoot:      name == c.rootName,
			RootHopPort: sets.RootHopPort(),
			LastLive:    s.lastLive,
		}
		for _, p := range s.monitor.Ports() {
			conf := p.Conf()
			ds.Ports = append(ds.Ports, PortStatusInfo{
				Number:   conf.Number,
				Name:     conf.Name,
				PeerDP:   conf.Peer.Datapath,
				PeerPort: conf.Peer.Port,
				State:    p.State().String(),
				LastSeen: p.LastSeen(),
			})
		}
		st.Datapaths[name] = ds
	}
	return st
}
