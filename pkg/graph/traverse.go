// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import "sort"

// edge is one adjacency entry. Edges are walked in both directions; the
// original relationship keeps its direction for the result.
type edge struct {
	rel      *Relationship
	neighbor string
}

// traverse walks an in-memory snapshot of the graph. Both stores load their
// node and edge sets and delegate here, so strategies behave identically.
func traverse(nodes map[string]*Entity, rels []*Relationship, seeds []*Entity, p TraverseParams) *TraverseResult {
	if p.MaxDepth <= 0 {
		p.MaxDepth = 2
	}
	if p.MaxNodes <= 0 {
		p.MaxNodes = 50
	}

	allowed := map[string]bool{}
	for _, t := range p.RelationshipTypes {
		allowed[t] = true
	}

	adj := make(map[string][]edge)
	for _, rel := range rels {
		if len(allowed) > 0 && !allowed[rel.Type] {
			continue
		}
		adj[rel.SourceID] = append(adj[rel.SourceID], edge{rel: rel, neighbor: rel.TargetID})
		adj[rel.TargetID] = append(adj[rel.TargetID], edge{rel: rel, neighbor: rel.SourceID})
	}

	var visited map[string]bool
	switch p.Strategy {
	case StrategyShortestPath:
		visited = shortestPath(adj, seeds, p.MaxNodes)
	case StrategyCommunity:
		// Whole connected component, bounded only by the node cap.
		visited = bfs(adj, seeds, int(^uint(0)>>1), p.MaxNodes)
	default:
		visited = bfs(adj, seeds, p.MaxDepth, p.MaxNodes)
	}

	return buildResult(nodes, rels, visited, allowed)
}

// bfs is a depth-bounded breadth-first walk from the seeds.
func bfs(adj map[string][]edge, seeds []*Entity, maxDepth, maxNodes int) map[string]bool {
	visited := map[string]bool{}
	var frontier []string
	for _, s := range seeds {
		if !visited[s.ID] && len(visited) < maxNodes {
			visited[s.ID] = true
			frontier = append(frontier, s.ID)
		}
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, e := range adj[id] {
				if visited[e.neighbor] {
					continue
				}
				if len(visited) >= maxNodes {
					return visited
				}
				visited[e.neighbor] = true
				next = append(next, e.neighbor)
			}
		}
		frontier = next
	}
	return visited
}

// shortestPath finds one shortest path between the first two seeds and
// returns its node set. With fewer than two seeds it degrades to a
// single-hop neighborhood.
func shortestPath(adj map[string][]edge, seeds []*Entity, maxNodes int) map[string]bool {
	if len(seeds) < 2 {
		return bfs(adj, seeds, 1, maxNodes)
	}
	start, goal := seeds[0].ID, seeds[1].ID

	prev := map[string]string{start: start}
	queue := []string{start}
	for len(queue) > 0 && prev[goal] == "" {
		id := queue[0]
		queue = queue[1:]
		for _, e := range adj[id] {
			if _, seen := prev[e.neighbor]; seen {
				continue
			}
			prev[e.neighbor] = id
			queue = append(queue, e.neighbor)
			if e.neighbor == goal {
				break
			}
		}
	}

	visited := map[string]bool{start: true}
	if _, found := prev[goal]; !found {
		// Disconnected; fall back to the seeds' neighborhoods.
		return bfs(adj, seeds, 1, maxNodes)
	}
	for id := goal; id != start; id = prev[id] {
		if len(visited) >= maxNodes {
			break
		}
		visited[id] = true
	}
	return visited
}

// buildResult collects the visited nodes and the edges fully inside the
// visited set, deterministically ordered.
func buildResult(nodes map[string]*Entity, rels []*Relationship, visited map[string]bool, allowed map[string]bool) *TraverseResult {
	res := &TraverseResult{}

	for id := range visited {
		if ent, ok := nodes[id]; ok {
			res.Entities = append(res.Entities, ent)
		}
	}
	sort.Slice(res.Entities, func(i, j int) bool {
		a, b := res.Entities[i], res.Entities[j]
		if a.CanonicalForm != b.CanonicalForm {
			return a.CanonicalForm < b.CanonicalForm
		}
		return a.ID < b.ID
	})

	for _, rel := range rels {
		if len(allowed) > 0 && !allowed[rel.Type] {
			continue
		}
		if visited[rel.SourceID] && visited[rel.TargetID] {
			res.Relationships = append(res.Relationships, rel)
		}
	}
	sort.Slice(res.Relationships, func(i, j int) bool {
		a, b := res.Relationships[i], res.Relationships[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.TargetID < b.TargetID
	})

	res.Summary = Summarize(res.Entities, res.Relationships)
	return res
}
