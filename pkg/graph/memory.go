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

import (
	"context"
	"sync"
)

// Memory is an in-process graph store. Used in tests and single-node setups
// without a database.
type Memory struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	byKey    map[string]string
	rels     map[string]*Relationship
}

// NewMemory creates an empty in-memory graph.
func NewMemory() *Memory {
	return &Memory{
		entities: map[string]*Entity{},
		byKey:    map[string]string{},
		rels:     map[string]*Relationship{},
	}
}

var _ Store = (*Memory)(nil)

// UpsertEntities merges by (type, canonical form), same contract as the SQL
// store.
func (m *Memory) UpsertEntities(_ context.Context, entities []*Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ent := range entities {
		key := ent.Type + "|" + ent.CanonicalForm
		if id, ok := m.byKey[key]; ok {
			prev := m.entities[id]
			prev.Aliases = unionStrings(prev.Aliases, ent.Aliases)
			prev.Occurrences = append(prev.Occurrences, ent.Occurrences...)
			if ent.Confidence > prev.Confidence {
				prev.Confidence = ent.Confidence
			}
			continue
		}
		cp := *ent
		m.entities[ent.ID] = &cp
		m.byKey[key] = ent.ID
	}
	return nil
}

// UpsertRelationships stores edges by id.
func (m *Memory) UpsertRelationships(_ context.Context, rels []*Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rel := range rels {
		cp := *rel
		m.rels[rel.ID] = &cp
	}
	return nil
}

// FindByText matches normalized mentions against canonicals and aliases.
func (m *Memory) FindByText(_ context.Context, texts []string) ([]*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[string]bool, len(texts))
	for _, t := range texts {
		if n := Normalize(t); n != "" {
			want[n] = true
		}
	}

	var out []*Entity
	for _, ent := range m.entities {
		if want[ent.CanonicalForm] {
			out = append(out, ent)
			continue
		}
		for _, al := range ent.Aliases {
			if want[Normalize(al)] {
				out = append(out, ent)
				break
			}
		}
	}
	return out, nil
}

// Traverse walks the in-memory graph.
func (m *Memory) Traverse(ctx context.Context, p TraverseParams) (*TraverseResult, error) {
	seeds, err := m.FindByText(ctx, p.StartEntities)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return &TraverseResult{}, nil
	}

	m.mu.RLock()
	nodes := make(map[string]*Entity, len(m.entities))
	for id, ent := range m.entities {
		nodes[id] = ent
	}
	rels := make([]*Relationship, 0, len(m.rels))
	for _, rel := range m.rels {
		rels = append(rels, rel)
	}
	m.mu.RUnlock()

	return traverse(nodes, rels, seeds, p), nil
}

// DeleteForDocument removes the document's occurrences, pruning entities
// left without any and the edges touching them.
func (m *Memory) DeleteForDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ent := range m.entities {
		var kept []Occurrence
		for _, o := range ent.Occurrences {
			if o.DocumentID != documentID {
				kept = append(kept, o)
			}
		}
		ent.Occurrences = kept
		if len(kept) == 0 {
			delete(m.entities, id)
			delete(m.byKey, ent.Type+"|"+ent.CanonicalForm)
		}
	}

	for id, rel := range m.rels {
		if m.entities[rel.SourceID] == nil || m.entities[rel.TargetID] == nil {
			delete(m.rels, id)
		}
	}
	return nil
}

// HealthCheck always succeeds.
func (m *Memory) HealthCheck(context.Context) error { return nil }
