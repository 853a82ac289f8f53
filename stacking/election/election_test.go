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

package election_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stackmesh/stackmesh/stacking/election"
)

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func healthyCandidate(name string, priority int) election.Candidate {
	return election.Candidate{
		Name:      name,
		Priority:  priority,
		LastLive:  testTime.Add(-time.Second),
		DownTime:  10 * time.Second,
		AnyPortUp: true,
	}
}

func TestHealthy(t *testing.T) {
	cases := map[string]struct {
		modify  func(*election.Candidate)
		healthy bool
	}{
		"all good":        {modify: func(*election.Candidate) {}, healthy: true},
		"never seen":      {modify: func(c *election.Candidate) { c.LastLive = time.Time{} }},
		"silent too long": {modify: func(c *election.Candidate) { c.LastLive = testTime.Add(-11 * time.Second) }},
		"all lags down":   {modify: func(c *election.Candidate) { c.AllLAGsDown = true }},
		"no port up":      {modify: func(c *election.Candidate) { c.AnyPortUp = false }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := healthyCandidate("s1", 1)
			tc.modify(&c)
			assert.Equal(t, tc.healthy, c.Healthy(testTime))
		})
	}
}

func TestElectStability(t *testing.T) {
	// A healthy current root is kept even when a better-priority healthy
	// candidate exists, and repeated elections never flap.
	candidates := []election.Candidate{
		healthyCandidate("s1", 1),
		healthyCandidate("s2", 2),
	}
	root := election.Elect(testTime, candidates, "s2")
	assert.Equal(t, "s2", root)
	for i := 0; i < 5; i++ {
		root = election.Elect(testTime, candidates, root)
		assert.Equal(t, "s2", root)
	}
}

func TestElectFailover(t *testing.T) {
	// The root went silent, the next healthy candidate by priority takes
	// over.
	s1 := healthyCandidate("s1", 1)
	s1.LastLive = testTime.Add(-time.Minute)
	candidates := []election.Candidate{
		s1,
		healthyCandidate("s2", 2),
		healthyCandidate("s3", 3),
	}
	assert.Equal(t, "s2", election.Elect(testTime, candidates, "s1"))
}

func TestElectNoHealthyCandidate(t *testing.T) {
	// With every candidate unhealthy there is still always a root.
	var candidates []election.Candidate
	for i, name := range []string{"s2", "s1", "s3"} {
		c := healthyCandidate(name, i+1)
		c.AnyPortUp = false
		candidates = append(candidates, c)
	}
	assert.Equal(t, "s2", election.Elect(testTime, candidates, ""))
}

func TestElectTieBreak(t *testing.T) {
	candidates := []election.Candidate{
		healthyCandidate("s9", 1),
		healthyCandidate("s2", 1),
		healthyCandidate("s1", 2),
	}
	assert.Equal(t, "s2", election.Elect(testTime, candidates, ""))
}

func TestElectNoCandidates(t *testing.T) {
	assert.Empty(t, election.Elect(testTime, nil, ""))
}

func TestOrder(t *testing.T) {
	candidates := []election.Candidate{
		healthyCandidate("s3", 2),
		healthyCandidate("s2", 1),
		healthyCandidate("s4", 2),
	}
	assert.Equal(t, []string{"s2", "s3", "s4"}, election.Order(candidates))
}
