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

package stacking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/stackmesh/pkg/log/testlog"
	"github.com/stackmesh/stackmesh/stacking"
	"github.com/stackmesh/stackmesh/stacking/config"
	"github.com/stackmesh/stackmesh/stacking/event"
	"github.com/stackmesh/stackmesh/stacking/flood"
	"github.com/stackmesh/stackmesh/stacking/linkstate"
)

var start = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type ruleRecorder struct {
	ops map[string][]stacking.RuleOp
}

func newRuleRecorder() *ruleRecorder {
	return &ruleRecorder{ops: make(map[string][]stacking.RuleOp)}
}

func (r *ruleRecorder) Apply(dp string, ops []stacking.RuleOp) error {
	r.ops[dp] = append(r.ops[dp], ops...)
	return nil
}

func (r *ruleRecorder) reset() {
	r.ops = make(map[string][]stacking.RuleOp)
}

func (r *ruleRecorder) tunnelOps(dp string) []stacking.RuleOp {
	var ops []stacking.RuleOp
	for _, op := range r.ops[dp] {
		if op.Kind == stacking.RuleTunnel {
			ops = append(ops, op)
		}
	}
	return ops
}

func (r *ruleRecorder) lastFlood(dp string) []flood.Rule {
	var rules []flood.Rule
	for _, op := range r.ops[dp] {
		if op.Kind == stacking.RuleFlood {
			rules = op.Flood
		}
	}
	return rules
}

type eventRecorder struct {
	notes []event.Notification
}

func (r *eventRecorder) Send(n event.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func (r *eventRecorder) topoChanges() []event.Notification {
	var topo []event.Notification
	for _, n := range r.notes {
		if n.TopoChange != nil {
			topo = append(topo, n)
		}
	}
	return topo
}

func (r *eventRecorder) stackStates() []event.Notification {
	var states []event.Notification
	for _, n := range r.notes {
		if n.StackState != nil {
			states = append(states, n)
		}
	}
	return states
}

func ringDocument() *config.Document {
	return &config.Document{
		Datapaths: []config.DatapathConfig{
			{Name: "s1", DPID: 1, Priority: 1, StackPorts: []config.PortConfig{
				{Number: 1, PeerDP: "s2", PeerPort: 1},
				{Number: 2, PeerDP: "s3", PeerPort: 2},
			}},
			{Name: "s2", DPID: 2, Priority: 2, StackPorts: []config.PortConfig{
				{Number: 1, PeerDP: "s1", PeerPort: 1},
				{Number: 2, PeerDP: "s3", PeerPort: 1},
			}},
			{Name: "s3", DPID: 3, StackPorts: []config.PortConfig{
				{Number: 1, PeerDP: "s2", PeerPort: 2},
				{Number: 2, PeerDP: "s1", PeerPort: 2},
			}},
		},
		Tunnels: []config.TunnelConfig{
			{Name: "t1", Source: "s2", Dest: "s3", DestPort: 42},
		},
	}
}

func newCoordinator(t *testing.T, doc *config.Document) (*stacking.Coordinator,
	*ruleRecorder, *eventRecorder) {

	t.Helper()
	rules := newRuleRecorder()
	events := &eventRecorder{}
	c := &stacking.Coordinator{
		Logger:              testlog.NewLogger(t),
		Rules:               rules,
		Events:              events,
		HealthCheckInterval: 5 * time.Second,
	}
	require.NoError(t, c.Configure(doc))
	return c, rules, events
}

// bringUp issues probes on all ports and feeds matching keepalives back,
// bringing every declared link up.
func bringUp(t *testing.T, c *stacking.Coordinator, doc *config.Document, now time.Time) {
	t.Helper()
	c.MarkProbesSent(now)
	dps := doc.Build()
	for name, dp := range dps {
		for _, p := range dp.Ports {
			peer := dps[p.Peer.Datapath]
			require.NoError(t, c.HandleProbe(name, linkstate.Probe{
				Port:       p.Number,
				RemoteID:   peer.ID,
				RemoteName: peer.Name,
				RemotePort: p.Peer.Port,
			}, now))
		}
	}
}

func TestRingBringUp(t *testing.T) {
	doc := ringDocument()
	c, rules, events := newCoordinator(t, doc)
	bringUp(t, c, doc, start)
	c.MaintainRoot(start)

	assert.Equal(t, "s1", c.Root())

	st := c.Status()
	assert.Equal(t, "direct", st.FloodStrategy)
	assert.Equal(t, []string{"s1", "s2"}, st.RootCandidates)
	assert.True(t, st.Datapaths["s1"].IsRoot)
	assert.Zero(t, st.Datapaths["s1"].RootHopPort)
	assert.EqualValues(t, 1, st.Datapaths["s2"].RootHopPort)
	assert.EqualValues(t, 2, st.Datapaths["s3"].RootHopPort)
	for name, dp := range st.Datapaths {
		for _, p := range dp.Ports {
			assert.Equal(t, "UP", p.State, "dp %s port %d", name, p.Number)
		}
	}
	assert.Len(t, st.Graph.Links, 3)

	// Every port went NONE -> INIT -> UP, each hop notified.
	assert.Len(t, events.stackStates(), 12)
	assert.NotEmpty(t, events.topoChanges())

	// The root floods both ring links, the others only towards the root.
	r1 := rules.lastFlood("s1")
	require.NotEmpty(t, r1)
	assert.Equal(t, []flood.Action{
		{Kind: flood.Output, Port: 1},
		{Kind: flood.Output, Port: 2},
		{Kind: flood.FloodLocal},
	}, r1[0].Actions)
	r2 := rules.lastFlood("s2")
	require.NotEmpty(t, r2)
	assert.Equal(t, []flood.Action{
		{Kind: flood.Output, Port: 1},
		{Kind: flood.FloodLocal},
	}, r2[0].Actions)
}

func TestRootStability(t *testing.T) {
	doc := ringDocument()
	c, _, events := newCoordinator(t, doc)
	bringUp(t, c, doc, start)
	c.MaintainRoot(start)
	require.Equal(t, "s1", c.Root())

	settled := len(events.topoChanges())
	// Stay within the keepalive timeout so only the election is exercised.
	for i := 0; i < 3; i++ {
		c.MaintainHealth(start.Add(time.Duration(i) * time.Second))
		assert.Equal(t, "s1", c.Root())
	}
	assert.Len(t, events.topoChanges(), settled)
}

func TestRootFailover(t *testing.T) {
	doc := ringDocument()
	c, _, events := newCoordinator(t, doc)
	bringUp(t, c, doc, start)
	c.MaintainRoot(start)
	require.Equal(t, "s1", c.Root())
	settled := len(events.topoChanges())

	// s1 stays silent past its down time of 3 health check intervals, s2
	// keeps reporting in. The election must move the root to s2 and
	// publish exactly one topology change.
	later := start.Add(20 * time.Second)
	c.DatapathLive("s2", later)
	c.DatapathLive("s3", later)
	c.MaintainRoot(later)

	assert.Equal(t, "s2", c.Root())
	topo := events.topoChanges()
	require.Len(t, topo, settled+1)
	change := topo[len(topo)-1].TopoChange
	assert.Equal(t, "s2", change.StackRoot)
	assert.Zero(t, change.Datapaths["s2"].RootHopPort)
	assert.EqualValues(t, 1, change.Datapaths["s1"].RootHopPort)
	assert.EqualValues(t, 1, change.Datapaths["s3"].RootHopPort)

	// Re-running the election changes nothing further.
	c.MaintainRoot(later)
	assert.Len(t, events.topoChanges(), settled+1)
}

func TestTunnelRerouteOnPortDown(t *testing.T) {
	doc := ringDocument()
	c, rules, _ := newCoordinator(t, doc)
	bringUp(t, c, doc, start)
	c.MaintainRoot(start)

	// t1 runs over the direct s2-s3 link, s1 is not involved.
	ops := rules.tunnelOps("s2")
	require.Len(t, ops, 1)
	assert.Equal(t, stacking.OpInstall, ops[0].Op)
	assert.EqualValues(t, 2, ops[0].OutPort)
	ops = rules.tunnelOps("s3")
	require.Len(t, ops, 1)
	assert.EqualValues(t, 42, ops[0].OutPort)
	assert.Empty(t, rules.tunnelOps("s1"))

	// The direct link drops, the tunnel must reroute through s1.
	rules.reset()
	c.PortStatus("s2", 2, false, start.Add(time.Second))

	ops = rules.tunnelOps("s2")
	require.Len(t, ops, 1)
	assert.Equal(t, stacking.OpReplace, ops[0].Op)
	assert.EqualValues(t, 1, ops[0].OutPort)
	ops = rules.tunnelOps("s1")
	require.Len(t, ops, 1)
	assert.Equal(t, stacking.OpInstall, ops[0].Op)
	assert.EqualValues(t, 2, ops[0].OutPort)
}

func TestLAGHealthAndNomination(t *testing.T) {
	doc := ringDocument()
	doc.Datapaths[0].LAGPorts = []config.LAGPortConfig{
		{Number: 10, Group: 1}, {Number: 11, Group: 1},
	}
	doc.Datapaths[1].LAGPorts = []config.LAGPortConfig{
		{Number: 10, Group: 1}, {Number: 11, Group: 1},
	}
	c, _, _ := newCoordinator(t, doc)
	bringUp(t, c, doc, start)

	// All aggregated links are down on both candidates, so nobody is
	// healthy and the best-priority candidate still becomes root.
	c.MaintainRoot(start)
	require.Equal(t, "s1", c.Root())

	// s2's LAG comes up, which makes s2 the only healthy candidate.
	c.PortStatus("s2", 10, true, start)
	c.MaintainRoot(start)
	assert.Equal(t, "s2", c.Root())
	assert.Equal(t, "s2", c.NominateLACPForwarder(1))

	// With both LAGs equally up the current root wins the nomination.
	c.PortStatus("s1", 10, true, start)
	c.MaintainRoot(start)
	assert.Equal(t, "s2", c.NominateLACPForwarder(1))

	assert.Empty(t, c.NominateLACPForwarder(9))
}
