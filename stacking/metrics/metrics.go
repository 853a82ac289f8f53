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

// Package metrics defines the prometheus metrics of the stacking
// subsystem. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stackmesh/stackmesh/pkg/metrics"
)

const namespace = "stackmesh"

// Metrics holds the stacking metrics.
type Metrics struct {
	probesReceived *prometheus.CounterVec
	cablingErrors  *prometheus.CounterVec
	portState      *prometheus.GaugeVec
	rootHopPort    *prometheus.GaugeVec
	isRoot         *prometheus.GaugeVec
	rootDPID       prometheus.Gauge
	topoChanges    prometheus.Counter
}

// New creates the metrics and registers them with the registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		probesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_probes_received_total",
			Help:      "Number of stack keepalive probes received.",
		}, []string{"dp"}),
		cablingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_cabling_errors_total",
			Help:      "Number of keepalives that did not match the configured peer.",
		}, []string{"dp"}),
		portState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stack_port_state",
			Help:      "Stacking state of the port (0 NONE, 1 INIT, 2 UP, 3 GONE, 4 BAD).",
		}, []string{"dp", "port"}),
		rootHopPort: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stack_root_hop_port",
			Help:      "Port towards the stack root, 0 on the root itself.",
		}, []string{"dp"}),
		isRoot: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stack_is_root",
			Help:      "Whether the datapath is the elected stack root.",
		}, []string{"dp"}),
		rootDPID: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stack_root_dpid",
			Help:      "Datapath id of the elected stack root.",
		}),
		topoChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_topo_changes_total",
			Help:      "Number of stack topology or root changes.",
		}),
	}
}

// ProbesReceived returns the probe counter for the datapath.
func (m *Metrics) ProbesReceived(dp string) metrics.Counter {
	if m == nil {
		return nil
	}
	return m.probesReceived.WithLabelValues(dp)
}

// CablingErrors returns the cabling error counter for the datapath.
func (m *Metrics) CablingErrors(dp string) metrics.Counter {
	if m == nil {
		return nil
	}
	return m.cablingErrors.WithLabelValues(dp)
}

// SetPortState records the stacking state code of a port.
func (m *Metrics) SetPortState(dp, port string, state int) {
	if m == nil {
		return
	}
	m.portState.WithLabelValues(dp, port).Set(float64(state))
}

// SetRootHopPort records the port towards the root.
func (m *Metrics) SetRootHopPort(dp string, port uint32) {
	if m == nil {
		return
	}
	m.rootHopPort.WithLabelValues(dp).Set(float64(port))
}

// SetIsRoot records whether the datapath is the elected root.
func (m *Metrics) SetIsRoot(dp string, isRoot bool) {
	if m == nil {
		return
	}
	v := 0.0
	if isRoot {
		v = 1.0
	}
	m.isRoot.WithLabelValues(dp).Set(v)
}

// SetRootDPID records the datapath id of the elected root.
func (m *Metrics) SetRootDPID(id uint64) {
	if m == nil {
		return
	}
	m.rootDPID.Set(float64(id))
}

// TopoChange counts one topology or root change.
func (m *Metrics) TopoChange() {
	if m == nil {
		return
	}
	m.topoChanges.Inc()
}
