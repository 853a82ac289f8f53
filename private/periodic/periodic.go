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

// Package periodic runs tasks at regular intervals. Tasks can additionally
// be triggered out of band without disturbing the regular interval.
package periodic

import (
	"context"
	"time"

	"github.com/stackmesh/stackmesh/pkg/log"
)

// Ticker interface to improve testability of this periodic task code.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type defaultTicker struct {
	*time.Ticker
}

func (t *defaultTicker) Chan() <-chan time.Time {
	return t.C
}

// NewTicker returns a new Ticker with time.Ticker as implementation.
func NewTicker(d time.Duration) Ticker {
	return &defaultTicker{
		Ticker: time.NewTicker(d),
	}
}

// Task is a piece of work that is executed periodically.
type Task interface {
	// Run executes the task once, it should return within the context's
	// timeout.
	Run(context.Context)
	// Name returns the tasks name, used for logging.
	Name() string
}

// Func is a convenience wrapper turning a function into a Task.
type Func struct {
	Task     func(context.Context)
	TaskName string
}

// Run implements Task.
func (f Func) Run(ctx context.Context) { f.Task(ctx) }

// Name implements Task.
func (f Func) Name() string { return f.TaskName }

// Runner runs a task periodically.
type Runner struct {
	task         Task
	ticker       Ticker
	timeout      time.Duration
	stop         chan struct{}
	loopFinished chan struct{}
	ctx          context.Context
	cancelF      context.CancelFunc
	trigger      chan struct{}
}

// Start creates and starts a new Runner to run the given task periodically.
// The timeout bounds the context of a single execution; it may be larger
// than the period.
func Start(task Task, period, timeout time.Duration) *Runner {
	return StartWithTicker(task, NewTicker(period), timeout)
}

// StartWithTicker is like Start with an externally supplied ticker, which
// allows tests to control time.
func StartWithTicker(task Task, ticker Ticker, timeout time.Duration) *Runner {
	ctx, cancelF := context.WithCancel(context.Background())
	runner := &Runner{
		task:         task,
		ticker:       ticker,
		timeout:      timeout,
		stop:         make(chan struct{}),
		loopFinished: make(chan struct{}),
		ctx:          ctx,
		cancelF:      cancelF,
		trigger:      make(chan struct{}),
	}
	go func() {
		defer log.HandlePanic()
		runner.runLoop()
	}()
	return runner
}

// Stop stops the periodic execution of the Runner. If the task is currently
// running this method will block until it is done.
func (r *Runner) Stop() {
	r.ticker.Stop()
	close(r.stop)
	<-r.loopFinished
}

// TriggerRun triggers the task to run now. This does not impact the regular
// period. The method blocks until either the triggered run was started or
// the runner was stopped, in which case the triggered run is skipped.
func (r *Runner) TriggerRun() {
	select {
	case <-r.stop:
	case r.trigger <- struct{}{}:
	}
}

func (r *Runner) runLoop() {
	defer close(r.loopFinished)
	defer r.cancelF()
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.Chan():
			r.onTick()
		case <-r.trigger:
			r.onTick()
		}
	}
}

func (r *Runner) onTick() {
	select {
	// Make sure the stop case is evaluated first, so that when both
	// channels are ready we always go into stop.
	case <-r.stop:
		return
	default:
		ctx, cancelF := context.WithTimeout(r.ctx, r.timeout)
		r.task.Run(ctx)
		cancelF()
	}
}
