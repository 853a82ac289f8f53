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

// Package metrics defines the minimal metric interfaces used throughout
// the codebase. Prometheus counters satisfy the Counter interface
// directly; nil metrics are valid and ignored, so components can be used
// without any metrics wired in.
package metrics

// Counter is a metric that can only increase.
type Counter interface {
	Add(delta float64)
}

// CounterInc increments the counter by one, if the counter is not nil.
func CounterInc(c Counter) {
	if c != nil {
		c.Add(1)
	}
}
