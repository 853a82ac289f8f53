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

// Package linkstate tracks the state of stack ports from received and
// lost keepalive probes. Each datapath has one Monitor; every state
// transition is reported to the caller, which mutates the stack graph
// accordingly.
package linkstate

import (
	"time"

	"github.com/stackmesh/stackmesh/pkg/log"
	"github.com/stackmesh/stackmesh/pkg/metrics"
	"github.com/stackmesh/stackmesh/pkg/private/serrors"
	"github.com/stackmesh/stackmesh/stacking/topo"
)

const (
	// DefaultProbeInterval is the default time between keepalive probes on
	// a stack port.
	DefaultProbeInterval = time.Second
	// DefaultMaxProbeLost is the default number of probe intervals without
	// a valid keepalive after which a port is considered gone. The default
	// tolerates transient loss.
	DefaultMaxProbeLost = 3
)

// State is the stacking state of a port.
type State int

// The port states. The numeric values are exposed as metric codes.
const (
	// StateNone means no probe has been issued on the port yet.
	StateNone State = iota
	// StateInit means a probe was sent but the link is not verified yet.
	StateInit
	// StateUp means keepalives are received and match the configured peer.
	StateUp
	// StateGone means no valid keepalive was received in time.
	StateGone
	// StateBad means the received keepalives do not match the configured
	// peer, i.e. the port is cabled to the wrong place.
	StateBad
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateInit:
		return "INIT"
	case StateUp:
		return "UP"
	case StateGone:
		return "GONE"
	case StateBad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// Config enables configuration of the link state timeouts.
type Config struct {
	// ProbeInterval is the time between keepalive probes.
	ProbeInterval time.Duration
	// MaxProbeLost is the number of probe intervals without a valid
	// keepalive after which a port is considered gone.
	MaxProbeLost int
}

// InitDefaults initializes the config fields that are not set to the
// default values.
func (c *Config) InitDefaults() {
	if c.ProbeInterval == 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.MaxProbeLost == 0 {
		c.MaxProbeLost = DefaultMaxProbeLost
	}
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.MaxProbeLost) * c.ProbeInterval
}

// Probe is a received keepalive, already parsed by the packet pipeline.
type Probe struct {
	// Port is the local port the probe was received on.
	Port uint32
	// RemoteID is the datapath id claimed by the sender.
	RemoteID uint64
	// RemoteName is the datapath name claimed by the sender.
	RemoteName string
	// RemotePort is the sending port number claimed by the sender.
	RemotePort uint32
	// RemoteState is the stacking state of the sending port.
	RemoteState State
}

// Port tracks the dynamic state of one stack port.
type Port struct {
	conf   *topo.StackPort
	peerID uint64

	state       State
	lastSent    time.Time
	lastSeen    time.Time
	cablingOK   bool
	remoteState State
}

// Conf returns the static port configuration.
func (p *Port) Conf() *topo.StackPort { return p.conf }

// State returns the current stacking state.
func (p *Port) State() State { return p.state }

// Up returns whether the port is verified up.
func (p *Port) Up() bool { return p.state == StateUp }

// LastSeen returns the time the last valid keepalive was received.
func (p *Port) LastSeen() time.Time { return p.lastSeen }

// RemoteState returns the stacking state the peer last reported.
func (p *Port) RemoteState() State { return p.remoteState }

// LinkUp decides whether the link between a local port and its peer port
// belongs in the stack graph. A port still in INIT counts as up when the
// peer side is already verified, so that a freshly restarted datapath
// rejoins without waiting for its own verification round.
func LinkUp(local, peer *Port) bool {
	if local.state == StateUp {
		return true
	}
	return local.state == StateInit && peer != nil && peer.state == StateUp
}

// Transition is a port state change.
type Transition struct {
	Port   *Port
	From   State
	To     State
	Reason string
}

// Metrics used by the monitor. Nil counters are ignored.
type Metrics struct {
	// ProbesReceived counts received keepalive probes.
	ProbesReceived metrics.Counter
	// CablingErrors counts keepalives whose remote identity did not match
	// the configured peer.
	CablingErrors metrics.Counter
}

// Monitor runs the keepalive state machine for all stack ports of one
// datapath. It is not safe for concurrent use; the coordinator serializes
// all calls.
type Monitor struct {
	dp       *topo.Datapath
	cfg      Config
	logger   log.Logger
	metrics  Metrics
	ports    []*Port
	byNumber map[uint32]*Port
}

// NewMonitor creates a monitor for the datapath. The peers map resolves
// the configured peer names to their datapaths; it must contain every
// peer the datapath declares.
func NewMonitor(dp *topo.Datapath, peers map[string]*topo.Datapath, cfg Config,
	logger log.Logger, m Metrics) *Monitor {

	cfg.InitDefaults()
	mon := &Monitor{
		dp:       dp,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		byNumber: make(map[uint32]*Port, len(dp.Ports)),
	}
	for _, conf := range dp.Ports {
		port := &Port{conf: conf, peerID: peers[conf.Peer.Datapath].ID}
		mon.ports = append(mon.ports, port)
		mon.byNumber[conf.Number] = port
	}
	return mon
}

// Datapath returns the monitored datapath.
func (m *Monitor) Datapath() *topo.Datapath { return m.dp }

// Port returns the port with the given number, or nil.
func (m *Monitor) Port(number uint32) *Port {
	return m.byNumber[number]
}

// Ports returns all stack ports in canonical order.
func (m *Monitor) Ports() []*Port {
	return append([]*Port(nil), m.ports...)
}

// UpPorts returns the verified-up stack ports in canonical order.
func (m *Monitor) UpPorts() []*Port {
	var up []*Port
	for _, p := range m.ports {
		if p.Up() {
			up = append(up, p)
		}
	}
	return up
}

// AnyPortUp returns whether at least one stack port is up.
func (m *Monitor) AnyPortUp() bool {
	for _, p := range m.ports {
		if p.Up() {
			return true
		}
	}
	return false
}

// ProbeSent records that the controller issued a keepalive probe on the
// port. The first probe moves the port out of NONE.
func (m *Monitor) ProbeSent(number uint32, now time.Time) *Transition {
	p := m.byNumber[number]
	if p == nil {
		return nil
	}
	p.lastSent = now
	return m.update(p, now)
}

// HandleProbe processes a received keepalive. The remote identity is
// verified against the configured peer; a mismatch marks the port BAD and
// increments the cabling error counter, but is not an error.
func (m *Monitor) HandleProbe(probe Probe, now time.Time) (*Transition, error) {
	p := m.byNumber[probe.Port]
	if p == nil {
		return nil, serrors.New("keepalive received on non-stack port",
			"dp", m.dp.Name, "port", probe.Port)
	}
	metrics.CounterInc(m.metrics.ProbesReceived)
	ok := probe.RemoteID == p.peerID &&
		probe.RemoteName == p.conf.Peer.Datapath &&
		probe.RemotePort == p.conf.Peer.Port
	if !ok {
		metrics.CounterInc(m.metrics.CablingErrors)
		log.SafeError(m.logger, "Stack cabling incorrect",
			"port", p.conf,
			"expected_dp_id", p.peerID,
			"expected_dp", p.conf.Peer.Datapath,
			"expected_port", p.conf.Peer.Port,
			"actual_dp_id", probe.RemoteID,
			"actual_dp", probe.RemoteName,
			"actual_port", probe.RemotePort)
	}
	p.lastSeen = now
	p.cablingOK = ok
	p.remoteState = probe.RemoteState
	return m.update(p, now), nil
}

// PortDown forces the port to GONE when its physical status drops,
// without waiting for the keepalive timeout. Ports that never left NONE
// stay there.
func (m *Monitor) PortDown(number uint32, now time.Time) *Transition {
	p := m.byNumber[number]
	if p == nil || p.state == StateNone || p.state == StateGone {
		return nil
	}
	from := p.state
	p.state = StateGone
	p.lastSeen = time.Time{}
	log.SafeInfo(m.logger, "Stack port state changed",
		"dp", m.dp.Name, "port", p.conf, "state", StateGone, "previous", from,
		"reason", "port down")
	return &Transition{Port: p, From: from, To: StateGone, Reason: "port down"}
}

// ExpireTimedOut checks all ports for keepalive timeouts and returns the
// resulting transitions.
func (m *Monitor) ExpireTimedOut(now time.Time) []Transition {
	var transitions []Transition
	for _, p := range m.ports {
		if t := m.update(p, now); t != nil {
			transitions = append(transitions, *t)
		}
	}
	return transitions
}

func (m *Monitor) update(p *Port, now time.Time) *Transition {
	from := p.state
	to := from
	var reason string
	switch {
	case p.lastSeen.IsZero():
		if p.state == StateNone && !p.lastSent.IsZero() {
			to, reason = StateInit, "probe sent, awaiting keepalive"
		}
	case now.Sub(p.lastSeen) > m.cfg.timeout():
		to, reason = StateGone, "no keepalive received"
	case !p.cablingOK:
		to, reason = StateBad, "incorrect cabling"
	default:
		to, reason = StateUp, "keepalive verified"
	}
	if to == from {
		return nil
	}
	p.state = to
	log.SafeInfo(m.logger, "Stack port state changed",
		"dp", m.dp.Name, "port", p.conf, "state", to, "previous", from,
		"reason", reason)
	return &Transition{Port: p, From: from, To: to, Reason: reason}
}
