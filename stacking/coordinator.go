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

// Package stacking wires the stacking subsystem together. The Coordinator
// owns the stack graph and the root state, fans link state transitions
// out to the per-datapath classifiers, and turns the results into flow
// rule deltas, metrics and notifications. Every externally delivered
// event is processed to completion under one lock, so all computations
// see consistent graph and root snapshots.
package stacking

import (
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/stackmesh/stackmesh/pkg/log"
	"github.com/stackmesh/stackmesh/pkg/private/serrors"
	"github.com/stackmesh/stackmesh/stacking/config"
	"github.com/stackmesh/stackmesh/stacking/election"
	"github.com/stackmesh/stackmesh/stacking/event"
	"github.com/stackmesh/stackmesh/stacking/flood"
	"github.com/stackmesh/stackmesh/stacking/graph"
	"github.com/stackmesh/stackmesh/stacking/linkstate"
	"github.com/stackmesh/stackmesh/stacking/metrics"
	"github.com/stackmesh/stackmesh/stacking/roles"
	"github.com/stackmesh/stackmesh/stacking/topo"
	"github.com/stackmesh/stackmesh/stacking/tunnel"
)

// OpKind says what to do with a rule.
type OpKind int

const (
	// OpInstall installs a new rule.
	OpInstall OpKind = iota
	// OpReplace replaces an existing rule.
	OpReplace
	// OpDelete removes a rule.
	OpDelete
)

func (o OpKind) String() string {
	switch o {
	case OpInstall:
		return "install"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RuleKind is the kind of forwarding rule an op concerns.
type RuleKind int

const (
	// RuleFlood is the datapath's flood rule set.
	RuleFlood RuleKind = iota
	// RuleTunnel is one tunnel forwarding rule.
	RuleTunnel
)

// RuleOp is one abstract forwarding rule instruction. The pipeline
// collaborator translates it into wire-level flow modifications.
type RuleOp struct {
	Op   OpKind
	Kind RuleKind
	// Flood holds the full flood rule set for RuleFlood ops.
	Flood []flood.Rule
	// Tunnel names the tunnel for RuleTunnel ops.
	Tunnel string
	// OutPort is the tunnel egress port for RuleTunnel install and
	// replace ops.
	OutPort uint32
}

// RuleSink receives rule deltas per datapath. Emission is fire and
// forget: errors are logged by the coordinator, never retried.
type RuleSink interface {
	Apply(dp string, ops []RuleOp) error
}

// NopRuleSink discards all rule deltas.
type NopRuleSink struct{}

// Apply implements RuleSink.
func (NopRuleSink) Apply(string, []RuleOp) error { return nil }

// dpState bundles the per-datapath runtime state.
type dpState struct {
	conf       *topo.Datapath
	monitor    *linkstate.Monitor
	classifier *roles.Classifier
	resolver   *tunnel.Resolver

	// cachedRoot is the root the datapath was last configured for. A
	// mismatch with the authoritative root forces reconfiguration.
	cachedRoot string
	lastLive   time.Time
	lags       map[uint32][]uint32
	lagPortUp  map[uint32]bool

	lastFlood   []flood.Rule
	lastTunnels map[string]uint32
}

func (s *dpState) allLAGsDown() bool {
	if len(s.lags) == 0 {
		return false
	}
	for _, members := range s.lags {
		for _, port := range members {
			if s.lagPortUp[port] {
				return false
			}
		}
	}
	return true
}

// Coordinator drives the stacking subsystem for all managed datapaths.
// All exported methods are safe for concurrent use.
type Coordinator struct {
	// Logger for coordinator decisions. Nil disables logging.
	Logger log.Logger
	// Rules receives the synthesized rule deltas.
	Rules RuleSink
	// Events receives stacking notifications.
	Events event.Sink
	// Metrics are the stacking metrics, optional.
	Metrics *metrics.Metrics
	// LinkConfig configures the per-port keepalive state machines.
	LinkConfig linkstate.Config
	// HealthCheckInterval scales the per-datapath liveness timeout.
	HealthCheckInterval time.Duration

	mtx        sync.Mutex
	g          *graph.Graph
	dps        map[string]*dpState
	names      []string
	tunnels    []tunnel.Tunnel
	strategy   flood.Strategy
	rootName   string
	rootsNames []string

	lastVersion  uint64
	lastSentRoot string
}

// Configure replaces the managed topology wholesale. Runtime port state
// is rebuilt from live probes afterwards; only the elected root survives
// a reconfiguration, provided it is still a candidate.
func (c *Coordinator) Configure(doc *config.Document) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if err := doc.Validate(); err != nil {
		return serrors.Wrap("validating topology", err)
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = config.DefaultHealthCheckInterval
	}
	if c.Rules == nil {
		c.Rules = NopRuleSink{}
	}
	if c.Events == nil {
		c.Events = event.NopSink{}
	}

	confs := doc.Build()
	c.g = graph.New()
	c.dps = make(map[string]*dpState, len(confs))
	c.names = c.names[:0]
	for name, conf := range confs {
		c.g.AddNode(name)
		classifier := roles.NewClassifier(name, c.g)
		c.dps[name] = &dpState{
			conf: conf,
			monitor: linkstate.NewMonitor(conf, confs, c.LinkConfig,
				c.Logger, linkstate.Metrics{
					ProbesReceived: c.Metrics.ProbesReceived(name),
					CablingErrors:  c.Metrics.CablingErrors(name),
				}),
			classifier:  classifier,
			resolver:    tunnel.NewResolver(name, classifier),
			lags:        doc.LAGGroups(name),
			lagPortUp:   make(map[uint32]bool),
			lastTunnels: make(map[string]uint32),
		}
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	c.tunnels = doc.BuildTunnels()

	var candidates []election.Candidate
	for _, name := range c.names {
		if s := c.dps[name]; s.conf.IsRootCandidate() {
			candidates = append(candidates, election.Candidate{
				Name:     name,
				Priority: s.conf.Priority,
			})
		}
	}
	c.rootsNames = election.Order(candidates)
	if !contains(c.rootsNames, c.rootName) {
		c.rootName = ""
	}

	c.strategy = c.selectStrategy()
	c.lastVersion = c.g.Version()
	c.lastSentRoot = c.rootName
	log.SafeInfo(c.Logger, "Stack configured",
		"datapaths", len(c.names),
		"root_candidates", c.rootsNames,
		"flood_strategy", c.strategy.Name())
	return nil
}

// selectStrategy picks the flood strategy from the declared topology: a
// stack where some datapath does not neighbor the preferred root needs
// reflection.
func (c *Coordinator) selectStrategy() flood.Strategy {
	declared := graph.New()
	for _, name := range c.names {
		declared.AddNode(name)
	}
	for _, name := range c.names {
		for _, p := range c.dps[name].conf.Ports {
			declared.AddLink(
				graph.Endpoint{Datapath: name, Port: p.Number},
				graph.Endpoint{Datapath: p.Peer.Datapath, Port: p.Peer.Port},
			)
		}
	}
	longest := 0
	for _, root := range c.rootsNames {
		if d := declared.LongestDistance(root); d > longest {
			longest = d
		}
	}
	return flood.SelectStrategy(longest)
}

// Root returns the currently elected root, empty before the first
// election.
func (c *Coordinator) Root() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.rootName
}

// DatapathLive records a liveness signal from the datapath.
func (c *Coordinator) DatapathLive(dp string, now time.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if s, ok := c.dps[dp]; ok {
		s.lastLive = now
	}
}

// HandleProbe processes a keepalive received on a stack port of dp. It
// also counts as a liveness signal from dp.
func (c *Coordinator) HandleProbe(dp string, probe linkstate.Probe, now time.Time) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	s, ok := c.dps[dp]
	if !ok {
		return serrors.New("keepalive for unknown datapath", "dp", dp)
	}
	s.lastLive = now
	trans, err := s.monitor.HandleProbe(probe, now)
	if err != nil {
		return err
	}
	if trans != nil {
		c.applyTransitions(dp, []linkstate.Transition{*trans}, now)
	}
	return nil
}

// MarkProbesSent records that the pipeline issued a keepalive probe on
// every stack port of every datapath.
func (c *Coordinator) MarkProbesSent(now time.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, name := range c.names {
		s := c.dps[name]
		var transitions []linkstate.Transition
		for _, p := range s.monitor.Ports() {
			if t := s.monitor.ProbeSent(p.Conf().Number, now); t != nil {
				transitions = append(transitions, *t)
			}
		}
		if len(transitions) > 0 {
			c.applyTransitions(name, transitions, now)
		}
	}
}

// PortStatus processes a physical port status change. Stack ports going
// down are marked gone immediately instead of waiting for the keepalive
// timeout; aggregated link member ports feed the root health predicate.
func (c *Coordinator) PortStatus(dp string, port uint32, up bool, now time.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	s, ok := c.dps[dp]
	if !ok {
		return
	}
	if s.monitor.Port(port) != nil {
		if up {
			return
		}
		if t := s.monitor.PortDown(port, now); t != nil {
			c.applyTransitions(dp, []linkstate.Transition{*t}, now)
		}
		return
	}
	if isLAGMember(s.lags, port) {
		s.lagPortUp[port] = up
	}
}

// MaintainHealth expires timed out stack ports and re-runs the election.
// It is driven by the periodic health check.
func (c *Coordinator) MaintainHealth(now time.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, name := range c.names {
		if transitions := c.dps[name].monitor.ExpireTimedOut(now); len(transitions) > 0 {
			c.applyTransitions(name, transitions, now)
		}
	}
	c.maintainRoot(now)
}

// MaintainRoot re-runs the root election without expiring ports.
func (c *Coordinator) MaintainRoot(now time.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.maintainRoot(now)
}

func (c *Coordinator) maintainRoot(now time.Time) {
	var candidates []election.Candidate
	for _, name := range c.names {
		s := c.dps[name]
		if !s.conf.IsRootCandidate() {
			continue
		}
		candidates = append(candidates, election.Candidate{
			Name:        name,
			Priority:    s.conf.Priority,
			LastLive:    s.lastLive,
			DownTime:    time.Duration(s.conf.RootDownTimeMultiple) * c.HealthCheckInterval,
			AnyPortUp:   s.monitor.AnyPortUp(),
			AllLAGsDown: s.allLAGsDown(),
		})
	}
	newRoot := election.Elect(now, candidates, c.rootName)
	inconsistent := false
	for _, name := range c.names {
		if c.dps[name].cachedRoot != newRoot {
			inconsistent = true
			break
		}
	}
	if newRoot == c.rootName && !inconsistent {
		return
	}
	if newRoot != c.rootName {
		log.SafeInfo(c.Logger, "Stack root changed",
			"root", newRoot, "previous", c.rootName)
		c.rootName = newRoot
	}
	if s, ok := c.dps[newRoot]; ok {
		c.Metrics.SetRootDPID(s.conf.ID)
	}
	c.recomputeAll(now)
}

// applyTransitions publishes port transitions, mutates the graph
// accordingly and recomputes all datapaths.
func (c *Coordinator) applyTransitions(dp string, transitions []linkstate.Transition, now time.Time) {
	s := c.dps[dp]
	for _, t := range transitions {
		conf := t.Port.Conf()
		c.Metrics.SetPortState(dp, strconv.FormatUint(uint64(conf.Number), 10), int(t.To))
		if err := c.Events.Send(event.Notification{
			Time:         now,
			DatapathID:   s.conf.ID,
			DatapathName: dp,
			StackState: &event.StackState{
				Port:  conf.Number,
				State: t.To.String(),
			},
		}); err != nil {
			log.SafeError(c.Logger, "Sending notification failed", "err", err)
		}
		c.updateLink(dp, t.Port)
		// The link spans two datapaths, its membership can change for the
		// peer's port as well.
		if peer, ok := c.dps[conf.Peer.Datapath]; ok {
			if peerPort := peer.monitor.Port(conf.Peer.Port); peerPort != nil {
				c.updateLink(conf.Peer.Datapath, peerPort)
			}
		}
	}
	c.recomputeAll(now)
}

// updateLink reconciles one link's graph membership with its port states.
func (c *Coordinator) updateLink(dp string, port *linkstate.Port) {
	conf := port.Conf()
	var peerPort *linkstate.Port
	if peer, ok := c.dps[conf.Peer.Datapath]; ok {
		peerPort = peer.monitor.Port(conf.Peer.Port)
	}
	a := graph.Endpoint{Datapath: dp, Port: conf.Number}
	b := graph.Endpoint{Datapath: conf.Peer.Datapath, Port: conf.Peer.Port}
	if peerPort != nil && linkstate.LinkUp(port, peerPort) && linkstate.LinkUp(peerPort, port) {
		c.g.AddLink(a, b)
	} else {
		c.g.RemoveLink(a, b)
	}
}

// recomputeAll reclassifies every datapath against the current graph and
// root, emits the resulting rule deltas, and publishes a topology change
// notification if graph or root actually changed.
func (c *Coordinator) recomputeAll(now time.Time) {
	rootHops := make(map[string]event.DatapathTopo, len(c.names))
	for _, name := range c.names {
		s := c.dps[name]
		sets := s.classifier.Classify(c.rootName, s.monitor.UpPorts())
		rootHops[name] = event.DatapathTopo{RootHopPort: sets.RootHopPort()}
		c.Metrics.SetRootHopPort(name, sets.RootHopPort())
		c.Metrics.SetIsRoot(name, name == c.rootName)

		ops := c.floodDelta(s, sets)
		ops = append(ops, c.tunnelDelta(s)...)
		s.cachedRoot = c.rootName
		if len(ops) == 0 {
			continue
		}
		if err := c.Rules.Apply(name, ops); err != nil {
			log.SafeError(c.Logger, "Applying rule deltas failed",
				"dp", name, "err", err)
		}
	}
	if c.g.Version() == c.lastVersion && c.rootName == c.lastSentRoot {
		return
	}
	c.lastVersion = c.g.Version()
	c.lastSentRoot = c.rootName
	c.Metrics.TopoChange()
	if err := c.Events.Send(event.Notification{
		Time: now,
		TopoChange: &event.TopoChange{
			StackRoot: c.rootName,
			Graph:     c.g.NodeLink(),
			Datapaths: rootHops,
		},
	}); err != nil {
		log.SafeError(c.Logger, "Sending notification failed", "err", err)
	}
}

func (c *Coordinator) floodDelta(s *dpState, sets roles.Sets) []RuleOp {
	engine := flood.Engine{
		Strategy:         c.strategy,
		ExternalRootOnly: !s.conf.IsRootCandidate(),
	}
	rules := engine.Rules(flood.Input{
		Sets:         sets,
		IsRoot:       s.conf.Name == c.rootName,
		HasExternals: s.conf.HasExternals,
	})
	if reflect.DeepEqual(rules, s.lastFlood) {
		return nil
	}
	op := OpReplace
	if s.lastFlood == nil {
		op = OpInstall
	}
	s.lastFlood = rules
	return []RuleOp{{Op: op, Kind: RuleFlood, Flood: rules}}
}

func (c *Coordinator) tunnelDelta(s *dpState) []RuleOp {
	var ops []RuleOp
	resolved := make(map[string]uint32)
	for _, tun := range c.tunnels {
		if !c.onTunnelPath(s.conf.Name, tun) {
			continue
		}
		out, ok := s.resolver.Outport(tun, s.monitor.UpPorts())
		if !ok {
			continue
		}
		resolved[tun.Name] = out
		prev, had := s.lastTunnels[tun.Name]
		switch {
		case !had:
			ops = append(ops, RuleOp{Op: OpInstall, Kind: RuleTunnel,
				Tunnel: tun.Name, OutPort: out})
		case prev != out:
			ops = append(ops, RuleOp{Op: OpReplace, Kind: RuleTunnel,
				Tunnel: tun.Name, OutPort: out})
		}
	}
	for name := range s.lastTunnels {
		if _, ok := resolved[name]; !ok {
			ops = append(ops, RuleOp{Op: OpDelete, Kind: RuleTunnel, Tunnel: name})
		}
	}
	s.lastTunnels = resolved
	sort.Slice(ops, func(i, j int) bool { return ops[i].Tunnel < ops[j].Tunnel })
	return ops
}

// onTunnelPath reports whether the datapath forwards the tunnel: its
// source, its destination, or a transit hop on the shortest path.
func (c *Coordinator) onTunnelPath(dp string, tun tunnel.Tunnel) bool {
	if dp == tun.Source || dp == tun.Dest {
		return true
	}
	return c.g.IsInPath(dp, tun.Source, tun.Dest)
}

// NominateLACPForwarder picks, among the datapaths that have member ports
// in the aggregated link group, the one whose ports should forward: the
// datapath with the most up member ports, ties broken in favor of the
// current root, then by lowest datapath id.
func (c *Coordinator) NominateLACPForwarder(group uint32) string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	best := ""
	bestUp := -1
	for _, name := range c.names {
		s := c.dps[name]
		members, ok := s.lags[group]
		if !ok {
			continue
		}
		up := 0
		for _, port := range members {
			if s.lagPortUp[port] {
				up++
			}
		}
		if best == "" || up > bestUp || (up == bestUp && betterNominee(name, best, c)) {
			best = name
			bestUp = up
		}
	}
	return best
}

func betterNominee(candidate, current string, c *Coordinator) bool {
	if candidate == c.rootName {
		return true
	}
	if current == c.rootName {
		return false
	}
	return c.dps[candidate].conf.ID < c.dps[current].conf.ID
}

func isLAGMember(lags map[uint32][]uint32, port uint32) bool {
	for _, members := range lags {
		for _, p := range members {
			if p == port {
				return true
			}
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
