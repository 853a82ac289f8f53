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

// Package roles classifies the up stack ports of a datapath relative to
// the elected root. The classification is a pure function of the stack
// graph, the root and the set of up ports; every datapath computes the
// same global answer from the same inputs.
package roles

import (
	"strconv"
	"strings"

	"github.com/stackmesh/stackmesh/stacking/graph"
	"github.com/stackmesh/stackmesh/stacking/linkstate"
)

// Sets is the role classification of one datapath's up stack ports. All
// slices preserve canonical port order.
type Sets struct {
	// Towards are the up ports whose peer is at the minimal graph distance
	// to the root among all reachable peers.
	Towards []*linkstate.Port
	// ChosenTowards are the towards ports leading to the chosen peer.
	ChosenTowards []*linkstate.Port
	// ChosenPort is the single port used for traffic towards the root, the
	// canonical-first of ChosenTowards. Nil on the root and on datapaths
	// that cannot reach the root.
	ChosenPort *linkstate.Port
	// Away are the up ports leading away from the root.
	Away []*linkstate.Port
	// InactiveAway are away ports whose peer does not route through this
	// datapath on its way to the root. Traffic from them is not flooded
	// back into the stack.
	InactiveAway []*linkstate.Port
	// PrunedAway are redundant away ports, i.e. all but the canonical-first
	// up port towards each away peer.
	PrunedAway []*linkstate.Port
}

// RootHopPort returns the port number of the next hop towards the root,
// or 0 on the root itself and on partitioned datapaths.
func (s Sets) RootHopPort() uint32 {
	if s.ChosenPort == nil {
		return 0
	}
	return s.ChosenPort.Conf().Number
}

// Classifier computes port roles for one datapath. Results are cached and
// reused until the graph, the root or the up port set changes. Not safe
// for concurrent use.
type Classifier struct {
	dp string
	g  *graph.Graph

	lastVersion uint64
	lastRoot    string
	lastUp      string
	cached      Sets
	valid       bool
}

// NewClassifier creates a classifier for the named datapath on the shared
// stack graph.
func NewClassifier(dp string, g *graph.Graph) *Classifier {
	return &Classifier{dp: dp, g: g}
}

// Classify returns the role sets for the given root and up ports. The up
// ports must be in canonical order, as returned by the link state monitor.
func (c *Classifier) Classify(root string, up []*linkstate.Port) Sets {
	fp := fingerprint(up)
	if c.valid && c.lastVersion == c.g.Version() && c.lastRoot == root && c.lastUp == fp {
		return c.cached
	}
	c.cached = c.classify(root, up)
	c.lastVersion = c.g.Version()
	c.lastRoot = root
	c.lastUp = fp
	c.valid = true
	return c.cached
}

func (c *Classifier) classify(root string, up []*linkstate.Port) Sets {
	var s Sets
	if root == "" {
		return s
	}
	if c.dp == root {
		// The root has no towards ports, everything leads away.
		s.Away = append(s.Away, up...)
	} else {
		towardsPeers := c.towardsPeers(root, up)
		for _, p := range up {
			if towardsPeers[p.Conf().Peer.Datapath] {
				s.Towards = append(s.Towards, p)
			} else {
				s.Away = append(s.Away, p)
			}
		}
		if len(s.Towards) > 0 {
			chosenPeer := s.Towards[0].Conf().Peer.Datapath
			// Prefer the first hop of our own shortest path to the root, so
			// that forwarding follows the globally computed paths.
			if path := c.g.ShortestPath(c.dp, root); len(path) > 1 && towardsPeers[path[1]] {
				chosenPeer = path[1]
			}
			for _, p := range s.Towards {
				if p.Conf().Peer.Datapath == chosenPeer {
					s.ChosenTowards = append(s.ChosenTowards, p)
				}
			}
			s.ChosenPort = s.ChosenTowards[0]
		}
	}
	seenPeer := make(map[string]bool)
	for _, p := range s.Away {
		peer := p.Conf().Peer.Datapath
		if !c.g.IsInPath(c.dp, peer, root) {
			s.InactiveAway = append(s.InactiveAway, p)
		}
		if seenPeer[peer] {
			s.PrunedAway = append(s.PrunedAway, p)
		}
		seenPeer[peer] = true
	}
	return s
}

// towardsPeers returns the peers at minimal distance to the root. Peers
// the root cannot be reached from are never towards peers.
func (c *Classifier) towardsPeers(root string, up []*linkstate.Port) map[string]bool {
	dist := make(map[string]int)
	for _, p := range up {
		peer := p.Conf().Peer.Datapath
		if _, ok := dist[peer]; !ok {
			dist[peer] = c.g.Distance(peer, root)
		}
	}
	min := 0
	for _, d := range dist {
		if d > 0 && (min == 0 || d < min) {
			min = d
		}
	}
	towards := make(map[string]bool)
	if min == 0 {
		return towards
	}
	for peer, d := range dist {
		if d == min {
			towards[peer] = true
		}
	}
	return towards
}

// ShortestPathPort returns the canonical-first up port towards the first
// hop of the shortest path to dst, or nil if dst is unreachable or is this
// datapath itself.
func (c *Classifier) ShortestPathPort(dst string, up []*linkstate.Port) *linkstate.Port {
	path := c.g.ShortestPath(c.dp, dst)
	if len(path) < 2 {
		return nil
	}
	for _, p := range up {
		if p.Conf().Peer.Datapath == path[1] {
			return p
		}
	}
	return nil
}

// IsEdge reports whether dp sits on the boundary of the stack, i.e. it is
// not the root and no datapath is further from the root than dp.
func IsEdge(g *graph.Graph, dp, root string) bool {
	if dp == root {
		return false
	}
	d := g.Distance(dp, root)
	return d > 0 && d == g.LongestDistance(root)
}

func fingerprint(up []*linkstate.Port) string {
	var b strings.Builder
	for _, p := range up {
		b.WriteString(strconv.FormatUint(uint64(p.Conf().Number), 10))
		b.WriteByte(',')
	}
	return b.String()
}
