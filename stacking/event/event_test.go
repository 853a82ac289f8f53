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

package event_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/stackmesh/stacking/event"
)

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := event.NewWriterSink(&buf)

	when := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Send(event.Notification{
		Time:         when,
		DatapathID:   0x2,
		DatapathName: "s2",
		StackState:   &event.StackState{Port: 1, State: "UP"},
	}))
	require.NoError(t, sink.Send(event.Notification{
		Time: when,
		TopoChange: &event.TopoChange{
			StackRoot: "s1",
			Datapaths: map[string]event.DatapathTopo{
				"s2": {RootHopPort: 1},
			},
		},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first event.Notification
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NotNil(t, first.StackState)
	assert.Equal(t, "s2", first.DatapathName)
	assert.Equal(t, "UP", first.StackState.State)
	assert.Nil(t, first.TopoChange)

	var second event.Notification
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NotNil(t, second.TopoChange)
	assert.Equal(t, "s1", second.TopoChange.StackRoot)
	assert.EqualValues(t, 1, second.TopoChange.Datapaths["s2"].RootHopPort)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, assert.AnError
}

func TestWriterSinkError(t *testing.T) {
	sink := event.NewWriterSink(failingWriter{})
	assert.Error(t, sink.Send(event.Notification{Time: time.Now()}))
}
