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

package tunnel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/stackmesh/pkg/log/testlog"
	"github.com/stackmesh/stackmesh/stacking/graph"
	"github.com/stackmesh/stackmesh/stacking/linkstate"
	"github.com/stackmesh/stackmesh/stacking/roles"
	"github.com/stackmesh/stackmesh/stacking/topo"
	"github.com/stackmesh/stackmesh/stacking/tunnel"
)

// chain builds s1 - s2 - s3 with all links up.
func chain(t *testing.T) (map[string]*linkstate.Monitor, *graph.Graph) {
	t.Helper()
	dps := map[string]*topo.Datapath{
		"s1": {Name: "s1", ID: 1, Ports: []*topo.StackPort{
			{Number: 1, Peer: topo.PeerRef{Datapath: "s2", Port: 1}},
		}},
		"s2": {Name: "s2", ID: 2, Ports: []*topo.StackPort{
			{Number: 1, Peer: topo.PeerRef{Datapath: "s1", Port: 1}},
			{Number: 2, Peer: topo.PeerRef{Datapath: "s3", Port: 1}},
		}},
		"s3": {Name: "s3", ID: 3, Ports: []*topo.StackPort{
			{Number: 1, Peer: topo.PeerRef{Datapath: "s2", Port: 2}},
		}},
	}
	g := graph.New()
	mons := make(map[string]*linkstate.Monitor)
	for name, dp := range dps {
		g.AddNode(name)
		mons[name] = linkstate.NewMonitor(dp, dps, linkstate.Config{},
			testlog.NewLogger(t), linkstate.Metrics{})
	}
	now := time.Now()
	for name, mon := range mons {
		for _, p := range mon.Ports() {
			conf := p.Conf()
			mon.ProbeSent(conf.Number, now)
			_, err := mon.HandleProbe(linkstate.Probe{
				Port:       conf.Number,
				RemoteID:   dps[conf.Peer.Datapath].ID,
				RemoteName: conf.Peer.Datapath,
				RemotePort: conf.Peer.Port,
			}, now)
			require.NoError(t, err)
			g.AddLink(
				graph.Endpoint{Datapath: name, Port: conf.Number},
				graph.Endpoint{Datapath: conf.Peer.Datapath, Port: conf.Peer.Port},
			)
		}
	}
	return mons, g
}

func TestOutport(t *testing.T) {
	mons, g := chain(t)
	tun := tunnel.Tunnel{Name: "t1", Source: "s1", Dest: "s3", DestPort: 42}

	t.Run("source forwards towards destination", func(t *testing.T) {
		r := tunnel.NewResolver("s1", roles.NewClassifier("s1", g))
		port, ok := r.Outport(tun, mons["s1"].UpPorts())
		require.True(t, ok)
		assert.EqualValues(t, 1, port)
	})

	t.Run("transit forwards along shortest path", func(t *testing.T) {
		r := tunnel.NewResolver("s2", roles.NewClassifier("s2", g))
		port, ok := r.Outport(tun, mons["s2"].UpPorts())
		require.True(t, ok)
		assert.EqualValues(t, 2, port)
	})

	t.Run("destination emits on the tunnel port", func(t *testing.T) {
		r := tunnel.NewResolver("s3", roles.NewClassifier("s3", g))
		port, ok := r.Outport(tun, mons["s3"].UpPorts())
		require.True(t, ok)
		assert.EqualValues(t, 42, port)
	})
}

func TestOutportReroutesOnGraphChange(t *testing.T) {
	mons, g := chain(t)
	tun := tunnel.Tunnel{Name: "t1", Source: "s1", Dest: "s3", DestPort: 42}
	r := tunnel.NewResolver("s1", roles.NewClassifier("s1", g))

	_, ok := r.Outport(tun, mons["s1"].UpPorts())
	require.True(t, ok)

	// The middle link goes down, the destination becomes unreachable and
	// the tunnel has no output.
	g.RemoveLink(
		graph.Endpoint{Datapath: "s2", Port: 2},
		graph.Endpoint{Datapath: "s3", Port: 1},
	)
	_, ok = r.Outport(tun, mons["s1"].UpPorts())
	assert.False(t, ok)
}
