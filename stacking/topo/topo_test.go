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

package topo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackmesh/stackmesh/stacking/topo"
)

func TestPortLookup(t *testing.T) {
	dp := &topo.Datapath{
		Name: "s1",
		ID:   0x1,
		Ports: []*topo.StackPort{
			{Number: 1, Name: "1", Peer: topo.PeerRef{Datapath: "s2", Port: 1}},
			{Number: 2, Name: "uplink", Peer: topo.PeerRef{Datapath: "s3", Port: 2}},
		},
	}
	assert.Equal(t, dp.Ports[0], dp.Port(1))
	assert.Equal(t, dp.Ports[1], dp.Port(2))
	assert.Nil(t, dp.Port(3))
}

func TestIsRootCandidate(t *testing.T) {
	assert.True(t, (&topo.Datapath{Name: "s1", Priority: 1}).IsRootCandidate())
	assert.False(t, (&topo.Datapath{Name: "s1"}).IsRootCandidate())
}

func TestSortPorts(t *testing.T) {
	ports := []*topo.StackPort{
		{Number: 7, Name: "7"},
		{Number: 2, Name: "2"},
		{Number: 5, Name: "5"},
	}
	topo.SortPorts(ports, nil)
	assert.EqualValues(t, 2, ports[0].Number)
	assert.EqualValues(t, 5, ports[1].Number)
	assert.EqualValues(t, 7, ports[2].Number)

	// Reverse order via a custom comparator.
	topo.SortPorts(ports, func(a, b *topo.StackPort) bool {
		return a.Number > b.Number
	})
	assert.EqualValues(t, 7, ports[0].Number)
}

func TestStrings(t *testing.T) {
	p := &topo.StackPort{Number: 3, Name: "core", Peer: topo.PeerRef{Datapath: "s2", Port: 1}}
	assert.Equal(t, "port core (3)", p.String())
	assert.Equal(t, "s2:1", p.Peer.String())
	assert.Equal(t, "datapath s1 (dpid 0x1)", (&topo.Datapath{Name: "s1", ID: 1}).String())
}
