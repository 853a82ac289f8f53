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

package graph

import "sort"

// NodeLinkData is the serializable node/link representation of the graph,
// embedded in topology change notifications.
type NodeLinkData struct {
	Nodes []NodeRef `json:"nodes"`
	Links []LinkRef `json:"links"`
}

// NodeRef is a single node in the node/link representation.
type NodeRef struct {
	ID string `json:"id"`
}

// LinkRef is a single edge in the node/link representation.
type LinkRef struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	SourcePort uint32 `json:"source_port"`
	TargetPort uint32 `json:"target_port"`
	Key        string `json:"key"`
}

// NodeLink returns the node/link representation of the graph. Nodes and
// links are emitted in deterministic order.
func (g *Graph) NodeLink() NodeLinkData {
	data := NodeLinkData{
		Nodes: make([]NodeRef, 0, len(g.names)),
		Links: make([]LinkRef, 0, len(g.edges)),
	}
	for _, name := range g.Nodes() {
		data.Nodes = append(data.Nodes, NodeRef{ID: name})
	}
	keys := make([]string, 0, len(g.edges))
	for key := range g.edges {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		edge := g.edges[key]
		data.Links = append(data.Links, LinkRef{
			Source:     edge.A.Datapath,
			Target:     edge.B.Datapath,
			SourcePort: edge.A.Port,
			TargetPort: edge.B.Port,
			Key:        key,
		})
	}
	return data
}
