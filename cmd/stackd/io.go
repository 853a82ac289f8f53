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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stackmesh/stackmesh/pkg/log"
	"github.com/stackmesh/stackmesh/private/periodic"
	"github.com/stackmesh/stackmesh/stacking"
	"github.com/stackmesh/stackmesh/stacking/flood"
	"github.com/stackmesh/stackmesh/stacking/linkstate"
)

// inputMsg is one JSON line from the packet pipeline.
type inputMsg struct {
	// Type is "probe", "port_status" or "live".
	Type string `json:"type"`
	DP   string `json:"dp"`
	Port uint32 `json:"port,omitempty"`

	RemoteID    uint64 `json:"remote_id,omitempty"`
	RemoteName  string `json:"remote_name,omitempty"`
	RemotePort  uint32 `json:"remote_port,omitempty"`
	RemoteState int    `json:"remote_state,omitempty"`

	Up bool `json:"up,omitempty"`
}

// serveInputs accepts pipeline connections and feeds their messages into
// the coordinator until the listener is closed. Port status changes
// additionally trigger an immediate health pass.
func serveInputs(ctx context.Context, ln net.Listener, coord *stacking.Coordinator,
	health *periodic.Runner) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for client := 0; ; client++ {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		connCtx, logger := log.WithLabels(ctx, "client", client)
		wg.Add(1)
		go func() {
			defer log.HandlePanic()
			defer wg.Done()
			defer conn.Close()
			logger.Debug("Pipeline connected")
			handleInputs(connCtx, conn, coord, health)
		}()
	}
}

func handleInputs(ctx context.Context, conn net.Conn, coord *stacking.Coordinator,
	health *periodic.Runner) {

	logger := log.FromCtx(ctx)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg inputMsg
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			logger.Error("Discarding unparsable input", "err", err)
			continue
		}
		now := time.Now()
		switch msg.Type {
		case "probe":
			err := coord.HandleProbe(msg.DP, linkstate.Probe{
				Port:        msg.Port,
				RemoteID:    msg.RemoteID,
				RemoteName:  msg.RemoteName,
				RemotePort:  msg.RemotePort,
				RemoteState: linkstate.State(msg.RemoteState),
			}, now)
			if err != nil {
				logger.Error("Handling probe failed", "dp", msg.DP, "err", err)
			}
		case "port_status":
			coord.PortStatus(msg.DP, msg.Port, msg.Up, now)
			health.TriggerRun()
		case "live":
			coord.DatapathLive(msg.DP, now)
		default:
			logger.Error("Discarding input of unknown type", "type", msg.Type)
		}
	}
}

func statusHandler(coord *stacking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(coord.Status()); err != nil {
			log.FromCtx(r.Context()).Error("Writing status failed", "err", err)
		}
	}
}

// logRuleSink logs rule deltas instead of shipping them anywhere.
type logRuleSink struct {
	logger log.Logger
}

func (s *logRuleSink) Apply(dp string, ops []stacking.RuleOp) error {
	for _, op := range ops {
		log.SafeDebug(s.logger, "Rule delta",
			"dp", dp, "op", op.Op, "kind", op.Kind, "tunnel", op.Tunnel)
	}
	return nil
}

// ruleMsg is the wire form of one rule delta batch.
type ruleMsg struct {
	Time time.Time   `json:"time"`
	DP   string      `json:"dp"`
	Ops  []ruleOpMsg `json:"ops"`
}

type ruleOpMsg struct {
	Op      string       `json:"op"`
	Kind    string       `json:"kind"`
	Flood   []flood.Rule `json:"flood,omitempty"`
	Tunnel  string       `json:"tunnel,omitempty"`
	OutPort uint32       `json:"out_port,omitempty"`
}

// socketRuleSink ships rule deltas as JSON lines to the pipeline.
type socketRuleSink struct {
	mtx  sync.Mutex
	conn net.Conn
}

func newSocketRuleSink(conn net.Conn) *socketRuleSink {
	return &socketRuleSink{conn: conn}
}

func (s *socketRuleSink) Apply(dp string, ops []stacking.RuleOp) error {
	msg := ruleMsg{Time: time.Now(), DP: dp}
	for _, op := range ops {
		kind := "flood"
		if op.Kind == stacking.RuleTunnel {
			kind = "tunnel"
		}
		msg.Ops = append(msg.Ops, ruleOpMsg{
			Op:      op.Op.String(),
			Kind:    kind,
			Flood:   op.Flood,
			Tunnel:  op.Tunnel,
			OutPort: op.OutPort,
		})
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, err = s.conn.Write(append(raw, '\n'))
	return err
}
