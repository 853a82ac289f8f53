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

// Package tunnel resolves the next-hop stack port of point-to-point
// tunnels across the stack. Resolution must be repeated whenever the
// stack graph changes, since any link going down can reroute tunnels that
// never touched the link itself.
package tunnel

import (
	"github.com/stackmesh/stackmesh/stacking/linkstate"
	"github.com/stackmesh/stackmesh/stacking/roles"
)

// Tunnel is a configured point-to-point tunnel.
type Tunnel struct {
	// Name identifies the tunnel.
	Name string
	// Source is the datapath the tunnel starts on.
	Source string
	// Dest is the datapath the tunnel terminates on.
	Dest string
	// DestPort is the port the tunnel payload leaves the stack on.
	DestPort uint32
}

// Resolver computes tunnel egress ports for one datapath.
type Resolver struct {
	dp         string
	classifier *roles.Classifier
}

// NewResolver creates a resolver for the named datapath, sharing the
// datapath's classifier.
func NewResolver(dp string, classifier *roles.Classifier) *Resolver {
	return &Resolver{dp: dp, classifier: classifier}
}

// Outport returns the port a tunnel frame leaves this datapath on: the
// configured destination port when the tunnel terminates here, otherwise
// the up stack port on the shortest path towards the destination. The
// second return is false when the destination is unreachable and the
// frame has no output.
func (r *Resolver) Outport(tun Tunnel, up []*linkstate.Port) (uint32, bool) {
	if r.dp == tun.Dest {
		return tun.DestPort, true
	}
	p := r.classifier.ShortestPathPort(tun.Dest, up)
	if p == nil {
		return 0, false
	}
	return p.Conf().Number, true
}
