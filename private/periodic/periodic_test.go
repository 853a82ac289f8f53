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

package periodic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stackmesh/stackmesh/private/periodic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type chanTicker struct {
	c chan time.Time
}

func (t *chanTicker) Chan() <-chan time.Time { return t.c }
func (t *chanTicker) Stop()                  {}

func TestPeriodicExecution(t *testing.T) {
	tick := &chanTicker{c: make(chan time.Time)}
	ran := make(chan struct{})
	task := periodic.Func{
		TaskName: "test_task",
		Task: func(ctx context.Context) {
			ran <- struct{}{}
		},
	}
	r := periodic.StartWithTicker(task, tick, time.Second)
	defer r.Stop()

	for i := 0; i < 3; i++ {
		tick.c <- time.Now()
		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatalf("task did not run on tick %d", i)
		}
	}
}

func TestTriggerRun(t *testing.T) {
	tick := &chanTicker{c: make(chan time.Time)}
	ran := make(chan struct{}, 1)
	task := periodic.Func{
		TaskName: "test_task",
		Task: func(ctx context.Context) {
			ran <- struct{}{}
		},
	}
	r := periodic.StartWithTicker(task, tick, time.Second)
	defer r.Stop()

	// No tick fired, only the trigger causes a run.
	r.TriggerRun()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("triggered run did not execute")
	}
}

func TestStopBlocksUntilDone(t *testing.T) {
	tick := &chanTicker{c: make(chan time.Time)}
	started := make(chan struct{})
	release := make(chan struct{})
	task := periodic.Func{
		TaskName: "test_task",
		Task: func(ctx context.Context) {
			close(started)
			<-release
		},
	}
	r := periodic.StartWithTicker(task, tick, time.Minute)
	tick.c <- time.Now()
	<-started

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while the task was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the task finished")
	}
}

func TestTriggerAfterStop(t *testing.T) {
	tick := &chanTicker{c: make(chan time.Time)}
	var runs int
	task := periodic.Func{
		TaskName: "test_task",
		Task: func(ctx context.Context) {
			runs++
		},
	}
	r := periodic.StartWithTicker(task, tick, time.Second)
	r.Stop()
	// Must not block or run the task.
	r.TriggerRun()
	assert.Equal(t, 0, runs)
}

func TestFuncName(t *testing.T) {
	f := periodic.Func{TaskName: "named"}
	require.Equal(t, "named", f.Name())
}
