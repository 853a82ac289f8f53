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

// Package election picks the stack root among the candidate datapaths.
// The controller has authoritative visibility into every datapath's
// liveness, so this is a centrally computed decision, not a distributed
// consensus protocol.
package election

import (
	"sort"
	"time"
)

// Candidate is the health snapshot of one root-candidate datapath.
type Candidate struct {
	// Name is the datapath name.
	Name string
	// Priority is the configured candidacy rank, lower wins.
	Priority int
	// LastLive is the time of the last liveness signal from the datapath.
	LastLive time.Time
	// DownTime is how long the datapath may stay silent before it is
	// considered unhealthy.
	DownTime time.Duration
	// AnyPortUp reports whether at least one stack port is up.
	AnyPortUp bool
	// AllLAGsDown reports whether every aggregated link group of the
	// datapath is fully down. False when none are configured.
	AllLAGsDown bool
}

// Healthy reports whether the candidate is fit to serve as root: recently
// live, not cut off from its aggregated links, and stacked to at least
// one peer.
func (c Candidate) Healthy(now time.Time) bool {
	if c.LastLive.IsZero() || now.Sub(c.LastLive) > c.DownTime {
		return false
	}
	if c.AllLAGsDown {
		return false
	}
	return c.AnyPortUp
}

// Order sorts the candidates by ascending priority, ties broken by name,
// and returns their names. The first entry is the preferred root.
func Order(candidates []Candidate) []string {
	sorted := sortCandidates(candidates)
	names := make([]string, 0, len(sorted))
	for _, c := range sorted {
		names = append(names, c.Name)
	}
	return names
}

// Elect returns the root name. A healthy current root is always kept to
// avoid thrashing. Otherwise the best healthy candidate wins, and with no
// healthy candidate at all the best candidate regardless of health, so
// that the stack always has a designated root. Empty when there are no
// candidates.
func Elect(now time.Time, candidates []Candidate, current string) string {
	sorted := sortCandidates(candidates)
	var healthy []Candidate
	for _, c := range sorted {
		if !c.Healthy(now) {
			continue
		}
		if c.Name == current {
			return current
		}
		healthy = append(healthy, c)
	}
	if len(healthy) > 0 {
		return healthy[0].Name
	}
	if len(sorted) > 0 {
		return sorted[0].Name
	}
	return ""
}

func sortCandidates(candidates []Candidate) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}
