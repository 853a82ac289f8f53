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

// Package graph implements the stack topology multigraph. Nodes are
// datapath names, edges are stack links keyed by the canonical endpoint
// pair, so parallel links between the same two datapaths stay
// distinguishable and a link reported from either side maps to the same
// edge.
//
// All iteration happens over arena indices and sorted names, never over
// map order, so every datapath computes identical shortest paths.
package graph

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Endpoint is one end of a stack link.
type Endpoint struct {
	Datapath string
	Port     uint32
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Datapath, e.Port)
}

func (e Endpoint) less(o Endpoint) bool {
	if e.Datapath != o.Datapath {
		return e.Datapath < o.Datapath
	}
	return e.Port < o.Port
}

// Edge is a stack link with canonically ordered endpoints.
type Edge struct {
	A, B Endpoint
}

// Canonical returns the edge for the two endpoints in canonical order,
// together with its key. Both link directions yield the same result.
func Canonical(a, b Endpoint) (Edge, string) {
	if b.less(a) {
		a, b = b, a
	}
	e := Edge{A: a, B: b}
	return e, fmt.Sprintf("%s-%s", e.A, e.B)
}

// Graph is an undirected multigraph over datapath names.
type Graph struct {
	index   map[string]int
	names   []string
	adj     []map[int]map[string]struct{}
	edges   map[string]Edge
	version uint64
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		edges: make(map[string]Edge),
	}
}

// AddNode inserts a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	g.node(name)
}

func (g *Graph) node(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.names)
	g.index[name] = i
	g.names = append(g.names, name)
	g.adj = append(g.adj, make(map[int]map[string]struct{}))
	g.version++
	return i
}

// HasNode returns whether the node is present.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Nodes returns all node names in sorted order.
func (g *Graph) Nodes() []string {
	nodes := append([]string(nil), g.names...)
	sort.Strings(nodes)
	return nodes
}

// AddLink inserts the stack link between the two endpoints. The link is
// stored canonically, so adding it from both sides is idempotent.
func (g *Graph) AddLink(a, b Endpoint) {
	edge, key := Canonical(a, b)
	if _, ok := g.edges[key]; ok {
		return
	}
	ai, bi := g.node(edge.A.Datapath), g.node(edge.B.Datapath)
	g.edges[key] = edge
	g.link(ai, bi, key)
	g.link(bi, ai, key)
	g.version++
}

// RemoveLink removes the stack link between the two endpoints, if present.
func (g *Graph) RemoveLink(a, b Endpoint) {
	edge, key := Canonical(a, b)
	if _, ok := g.edges[key]; !ok {
		return
	}
	delete(g.edges, key)
	ai, bi := g.index[edge.A.Datapath], g.index[edge.B.Datapath]
	g.unlink(ai, bi, key)
	g.unlink(bi, ai, key)
	g.version++
}

func (g *Graph) link(from, to int, key string) {
	keys := g.adj[from][to]
	if keys == nil {
		keys = make(map[string]struct{})
		g.adj[from][to] = keys
	}
	keys[key] = struct{}{}
}

func (g *Graph) unlink(from, to int, key string) {
	keys := g.adj[from][to]
	delete(keys, key)
	if len(keys) == 0 {
		delete(g.adj[from], to)
	}
}

// HasLink returns whether the link between the two endpoints is present.
func (g *Graph) HasLink(a, b Endpoint) bool {
	_, key := Canonical(a, b)
	_, ok := g.edges[key]
	return ok
}

// Size returns the number of edges.
func (g *Graph) Size() int {
	return len(g.edges)
}

// Degree returns the number of edges incident to the node.
func (g *Graph) Degree(name string) int {
	i, ok := g.index[name]
	if !ok {
		return 0
	}
	n := 0
	for _, keys := range g.adj[i] {
		n += len(keys)
	}
	return n
}

// Version increases on every mutation. It identifies a topology snapshot
// for memoization.
func (g *Graph) Version() uint64 {
	return g.version
}

// Hash summarizes the degree sequence of the graph. Two calls return the
// same value iff no node changed degree in between.
func (g *Graph) Hash() uint64 {
	h := fnv.New64a()
	for _, name := range g.Nodes() {
		fmt.Fprintf(h, "%s=%d;", name, g.Degree(name))
	}
	return h.Sum64()
}

// ShortestPath returns the shortest path from src to dst as an ordered
// list of datapath names, or nil if there is none. Among several shortest
// paths the lexicographically smallest sequence of names is returned, so
// all datapaths agree on the result.
func (g *Graph) ShortestPath(src, dst string) []string {
	si, ok := g.index[src]
	if !ok {
		return nil
	}
	di, ok := g.index[dst]
	if !ok {
		return nil
	}
	if si == di {
		return []string{src}
	}
	// dist holds the number of nodes on the shortest path to dst,
	// 1 for dst itself, 0 for unreachable.
	dist := make([]int, len(g.names))
	dist[di] = 1
	queue := []int{di}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.adj[cur] {
			if dist[next] == 0 {
				dist[next] = dist[cur] + 1
				queue = append(queue, next)
			}
		}
	}
	if dist[si] == 0 {
		return nil
	}
	// Walk from src towards dst, always picking the smallest-named
	// neighbor that lies on a shortest path. The greedy choice yields the
	// lexicographically smallest of all shortest paths.
	path := make([]string, 0, dist[si])
	cur := si
	path = append(path, g.names[cur])
	for cur != di {
		next := -1
		for cand := range g.adj[cur] {
			if dist[cand] != dist[cur]-1 {
				continue
			}
			if next == -1 || g.names[cand] < g.names[next] {
				next = cand
			}
		}
		cur = next
		path = append(path, g.names[cur])
	}
	return path
}

// Distance returns the number of nodes on the shortest path between the
// two nodes, or 0 if unreachable.
func (g *Graph) Distance(src, dst string) int {
	return len(g.ShortestPath(src, dst))
}

// LongestDistance returns the maximum over all nodes of the shortest-path
// distance from root, counted in nodes. Unreachable nodes contribute 0.
func (g *Graph) LongestDistance(root string) int {
	longest := 0
	for _, name := range g.Nodes() {
		if d := g.Distance(root, name); d > longest {
			longest = d
		}
	}
	return longest
}

// IsInPath returns whether node lies on the shortest path from src to dst.
func (g *Graph) IsInPath(node, src, dst string) bool {
	for _, hop := range g.ShortestPath(src, dst) {
		if hop == node {
			return true
		}
	}
	return false
}
