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

// Package event delivers stacking notifications to external consumers.
// Exactly one of the payload pointers of a Notification is set.
package event

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/stackmesh/stackmesh/pkg/private/serrors"
	"github.com/stackmesh/stackmesh/stacking/graph"
)

// StackState reports a single port state transition.
type StackState struct {
	Port  uint32 `json:"port"`
	State string `json:"state"`
}

// DatapathTopo is the per-datapath part of a topology change.
type DatapathTopo struct {
	// RootHopPort is the port towards the root, 0 on the root itself.
	RootHopPort uint32 `json:"root_hop_port"`
}

// TopoChange reports a change of the stack graph or the elected root.
type TopoChange struct {
	StackRoot string                  `json:"stack_root"`
	Graph     graph.NodeLinkData      `json:"graph"`
	Datapaths map[string]DatapathTopo `json:"dps"`
}

// Notification is one stacking event.
type Notification struct {
	// Time is when the event happened.
	Time time.Time `json:"time"`
	// DatapathID identifies the datapath the event concerns, 0 for
	// stack-wide events.
	DatapathID uint64 `json:"dp_id,omitempty"`
	// DatapathName names the datapath the event concerns.
	DatapathName string `json:"dp_name,omitempty"`

	StackState *StackState `json:"STACK_STATE,omitempty"`
	TopoChange *TopoChange `json:"STACK_TOPO_CHANGE,omitempty"`
}

// Sink consumes notifications. Delivery is fire and forget, failures are
// reported to the caller but never retried.
type Sink interface {
	Send(n Notification) error
}

// NopSink discards all notifications.
type NopSink struct{}

// Send implements Sink.
func (NopSink) Send(Notification) error { return nil }

// WriterSink writes notifications as JSON lines. Safe for concurrent use.
type WriterSink struct {
	mtx sync.Mutex
	w   io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Send implements Sink.
func (s *WriterSink) Send(n Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return serrors.Wrap("encoding notification", err)
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, err := s.w.Write(append(raw, '\n')); err != nil {
		return serrors.Wrap("writing notification", err)
	}
	return nil
}
