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

// Package topo holds the static stacking topology model: datapaths and
// their declared stack ports. All values are produced from validated
// configuration and treated as immutable afterwards; dynamic link state
// lives in the linkstate package.
package topo

import (
	"fmt"
	"sort"
)

// DefaultRootDownTimeMultiple is the number of health check intervals a
// root candidate may miss liveness updates before it is unhealthy.
const DefaultRootDownTimeMultiple = 3

// PeerRef identifies the remote end of a stack link.
type PeerRef struct {
	// Datapath is the name of the remote datapath.
	Datapath string
	// Port is the port number on the remote datapath.
	Port uint32
}

func (p PeerRef) String() string {
	return fmt.Sprintf("%s:%d", p.Datapath, p.Port)
}

// StackPort is a port with stacking configured. It belongs to exactly one
// datapath and references its configured peer.
type StackPort struct {
	// Number is the port number, unique per datapath.
	Number uint32
	// Name is the port name, defaults to the stringified number.
	Name string
	// Peer is the declared remote end of the link.
	Peer PeerRef
}

func (p *StackPort) String() string {
	return fmt.Sprintf("port %s (%d)", p.Name, p.Number)
}

// Datapath is a forwarding element managed by the controller.
type Datapath struct {
	// Name is the stable name of the datapath.
	Name string
	// ID is the numeric datapath id.
	ID uint64
	// Priority is the root candidacy rank, lower wins. Zero means the
	// datapath is not a root candidate.
	Priority int
	// RootDownTimeMultiple is the number of health check intervals without
	// a liveness signal after which the datapath counts as unhealthy.
	RootDownTimeMultiple int
	// HasExternals indicates that the datapath has loop-protected external
	// ports attached.
	HasExternals bool
	// Ports are the declared stack ports, in canonical order.
	Ports []*StackPort
}

// IsRootCandidate returns whether the datapath has a configured priority.
func (d *Datapath) IsRootCandidate() bool {
	return d.Priority > 0
}

// Port returns the stack port with the given number, or nil.
func (d *Datapath) Port(number uint32) *StackPort {
	for _, p := range d.Ports {
		if p.Number == number {
			return p
		}
	}
	return nil
}

func (d *Datapath) String() string {
	return fmt.Sprintf("datapath %s (dpid %#x)", d.Name, d.ID)
}

// PortLess is a comparator establishing the canonical port order. The
// default orders by ascending port number.
type PortLess func(a, b *StackPort) bool

// ByNumber is the default canonical port order.
func ByNumber(a, b *StackPort) bool {
	return a.Number < b.Number
}

// SortPorts sorts ports in place using the given order, falling back to
// ByNumber if less is nil.
func SortPorts(ports []*StackPort, less PortLess) {
	if less == nil {
		less = ByNumber
	}
	sort.SliceStable(ports, func(i, j int) bool {
		return less(ports[i], ports[j])
	})
}
