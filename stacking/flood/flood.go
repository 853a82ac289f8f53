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

// Package flood turns port role sets into concrete flood rules: for every
// possible ingress port, the set of stack ports a flooded frame must be
// sent out of. Two strategies exist. The direct strategy serves stacks
// where every datapath neighbors the root; the reflected strategy serves
// longer chains by sending all floods to the root first and reflecting
// them back down, which keeps flooding loop free on arbitrary shapes.
package flood

import (
	"sort"

	"github.com/stackmesh/stackmesh/stacking/linkstate"
	"github.com/stackmesh/stackmesh/stacking/roles"
)

// Kind is the type of a flood action.
type Kind int

const (
	// Output sends the frame out the stack port in Action.Port.
	Output Kind = iota
	// OutputInPort re-outputs the frame on its ingress port. Only the root
	// emits this, to reflect a flood back down the link it came from.
	OutputInPort
	// FloodLocal floods the frame to the datapath's non-stack ports,
	// excluding the ingress port.
	FloodLocal
	// FloodExternal floods the frame to the external-loop-protected ports.
	FloodExternal
)

func (k Kind) String() string {
	switch k {
	case Output:
		return "output"
	case OutputInPort:
		return "output-in-port"
	case FloodLocal:
		return "flood-local"
	case FloodExternal:
		return "flood-external"
	default:
		return "unknown"
	}
}

// Action is one element of a flood rule.
type Action struct {
	Kind Kind `json:"kind"`
	// Port is the stack port for Output actions, 0 otherwise.
	Port uint32 `json:"port,omitempty"`
}

// Rule lists the flood actions for frames entering on InPort. InPort 0 is
// the rule for frames entering on local, non-stack ports. An empty action
// list means the frame is dropped.
type Rule struct {
	InPort  uint32   `json:"in_port"`
	Actions []Action `json:"actions"`
}

// Input is the per-datapath state a strategy computes rules from.
type Input struct {
	// Sets is the current role classification of the up stack ports.
	Sets roles.Sets
	// IsRoot reports whether this datapath is the elected root.
	IsRoot bool
	// HasExternals reports whether the datapath has external-loop-protected
	// ports.
	HasExternals bool
}

// Strategy computes the flood rules of one datapath. Implementations are
// stateless.
type Strategy interface {
	Name() string
	Rules(in Input) []Rule
}

// SelectStrategy picks the strategy for a stack from the longest shortest
// path distance to the root, counted in datapaths. Reflection is only
// needed once some datapath does not neighbor the root.
func SelectStrategy(longestRootDistance int) Strategy {
	if longestRootDistance > 2 {
		return Reflected{}
	}
	return Direct{}
}

// Engine applies a strategy and the external-loop-protection policy.
type Engine struct {
	// Strategy computes the raw rules.
	Strategy Strategy
	// ExternalRootOnly restricts external flooding to the elected root.
	ExternalRootOnly bool
}

// Rules returns the flood rules for the datapath, one per possible ingress
// class in canonical order, the local-ingress rule first.
func (e *Engine) Rules(in Input) []Rule {
	rules := e.Strategy.Rules(in)
	if e.ExternalRootOnly && !in.IsRoot {
		for i := range rules {
			rules[i].Actions = dropExternal(rules[i].Actions)
		}
	}
	return rules
}

// Direct floods along a star: non-root datapaths send floods out their
// chosen root-ward port, the root floods every active away link. The
// ingress port is never flooded back out.
type Direct struct{}

// Name implements Strategy.
func (Direct) Name() string { return "direct" }

// Rules implements Strategy.
func (Direct) Rules(in Input) []Rule {
	var base []Action
	if !in.IsRoot && in.Sets.ChosenPort != nil {
		base = append(base, Action{Kind: Output, Port: in.Sets.ChosenPort.Conf().Number})
	}
	for _, p := range activeAway(in.Sets) {
		base = append(base, Action{Kind: Output, Port: p.Conf().Number})
	}
	base = append(base, localActions(in)...)

	rules := []Rule{{InPort: 0, Actions: base}}
	for _, port := range stackPorts(in.Sets) {
		var acts []Action
		for _, a := range base {
			if a.Kind == Output && a.Port == port {
				continue
			}
			acts = append(acts, a)
		}
		rules = append(rules, Rule{InPort: port, Actions: acts})
	}
	return rules
}

// Reflected floods through the root: non-root datapaths send every flood
// towards the root only, the root reflects it down all active away links
// including the one it arrived on, and non-root datapaths distribute
// reflected frames locally and further away from the root, never back up.
type Reflected struct{}

// Name implements Strategy.
func (Reflected) Name() string { return "reflected" }

// Rules implements Strategy.
func (Reflected) Rules(in Input) []Rule {
	if in.IsRoot {
		return reflectedRoot(in)
	}
	return reflectedNonRoot(in)
}

func reflectedRoot(in Input) []Rule {
	away := activeAway(in.Sets)
	base := make([]Action, 0, len(away)+2)
	for _, p := range away {
		base = append(base, Action{Kind: Output, Port: p.Conf().Number})
	}
	base = append(base, localActions(in)...)

	rules := []Rule{{InPort: 0, Actions: base}}
	for _, port := range stackPorts(in.Sets) {
		var acts []Action
		for _, a := range base {
			if a.Kind == Output && a.Port == port {
				// Reflect back down the ingress link.
				acts = append(acts, Action{Kind: OutputInPort})
				continue
			}
			acts = append(acts, a)
		}
		rules = append(rules, Rule{InPort: port, Actions: acts})
	}
	return rules
}

func reflectedNonRoot(in Input) []Rule {
	var towardsRoot []Action
	if in.Sets.ChosenPort != nil {
		towardsRoot = []Action{{Kind: Output, Port: in.Sets.ChosenPort.Conf().Number}}
	}
	// Frames reflected down from the root fan out locally and further away.
	downward := make([]Action, 0)
	for _, p := range activeAway(in.Sets) {
		downward = append(downward, Action{Kind: Output, Port: p.Conf().Number})
	}
	downward = append(downward, localActions(in)...)

	towards := make(map[uint32]bool)
	for _, p := range in.Sets.Towards {
		towards[p.Conf().Number] = true
	}
	rules := []Rule{{InPort: 0, Actions: towardsRoot}}
	for _, port := range stackPorts(in.Sets) {
		if towards[port] {
			rules = append(rules, Rule{InPort: port, Actions: downward})
			continue
		}
		rules = append(rules, Rule{InPort: port, Actions: towardsRoot})
	}
	return rules
}

func localActions(in Input) []Action {
	acts := []Action{{Kind: FloodLocal}}
	if in.HasExternals {
		acts = append(acts, Action{Kind: FloodExternal})
	}
	return acts
}

// activeAway returns the away ports that actually carry flooded traffic,
// i.e. away minus inactive minus pruned.
func activeAway(s roles.Sets) []*linkstate.Port {
	excluded := make(map[uint32]bool)
	for _, p := range s.InactiveAway {
		excluded[p.Conf().Number] = true
	}
	for _, p := range s.PrunedAway {
		excluded[p.Conf().Number] = true
	}
	var active []*linkstate.Port
	for _, p := range s.Away {
		if !excluded[p.Conf().Number] {
			active = append(active, p)
		}
	}
	return active
}

// stackPorts returns all up stack port numbers in ascending order.
func stackPorts(s roles.Sets) []uint32 {
	ports := make([]uint32, 0, len(s.Towards)+len(s.Away))
	for _, p := range s.Towards {
		ports = append(ports, p.Conf().Number)
	}
	for _, p := range s.Away {
		ports = append(ports, p.Conf().Number)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func dropExternal(acts []Action) []Action {
	var kept []Action
	for _, a := range acts {
		if a.Kind != FloodExternal {
			kept = append(kept, a)
		}
	}
	return kept
}
