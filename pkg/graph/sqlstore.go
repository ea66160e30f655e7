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
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/docrag/pkg/store"
)

// SQLStore persists the graph in the relational store. Traversal loads the
// edge set and walks in memory; the graph stays small relative to the
// chunk corpus.
type SQLStore struct {
	store *store.Store
}

// NewSQLStore wraps the relational store.
func NewSQLStore(s *store.Store) *SQLStore {
	return &SQLStore{store: s}
}

var _ Store = (*SQLStore)(nil)

// UpsertEntities stores entities and their occurrences.
func (g *SQLStore) UpsertEntities(ctx context.Context, entities []*Entity) error {
	for _, ent := range entities {
		rec, err := toRecord(ent)
		if err != nil {
			return err
		}
		if err := g.store.UpsertEntity(ctx, rec); err != nil {
			return err
		}

		occs := make([]store.OccurrenceRecord, 0, len(ent.Occurrences))
		for _, o := range ent.Occurrences {
			occs = append(occs, store.OccurrenceRecord{
				EntityID:   ent.ID,
				DocumentID: o.DocumentID,
				ChunkID:    o.ChunkID,
				Position:   o.Position,
				Snippet:    o.Snippet,
			})
		}
		if err := g.store.InsertOccurrences(ctx, occs); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRelationships stores edges.
func (g *SQLStore) UpsertRelationships(ctx context.Context, rels []*Relationship) error {
	for _, rel := range rels {
		err := g.store.UpsertRelationship(ctx, &store.RelationshipRecord{
			ID:               rel.ID,
			SourceEntityID:   rel.SourceID,
			TargetEntityID:   rel.TargetID,
			RelationType:     rel.Type,
			Confidence:       rel.Confidence,
			Evidence:         rel.Evidence,
			SourceDocument:   rel.SourceDocumentID,
			ExtractionMethod: rel.ExtractionMethod,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// FindByText resolves mentions to stored entities.
func (g *SQLStore) FindByText(ctx context.Context, texts []string) ([]*Entity, error) {
	normalized := make([]string, 0, len(texts))
	for _, t := range texts {
		if n := Normalize(t); n != "" {
			normalized = append(normalized, n)
		}
	}

	recs, err := g.store.FindEntitiesByText(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return fromRecords(recs)
}

// Traverse walks the graph from the named start entities.
func (g *SQLStore) Traverse(ctx context.Context, p TraverseParams) (*TraverseResult, error) {
	seeds, err := g.FindByText(ctx, p.StartEntities)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return &TraverseResult{}, nil
	}

	relRecs, err := g.store.AllRelationships(ctx)
	if err != nil {
		return nil, err
	}

	rels := make([]*Relationship, 0, len(relRecs))
	idSet := map[string]bool{}
	for _, s := range seeds {
		idSet[s.ID] = true
	}
	for _, r := range relRecs {
		rels = append(rels, &Relationship{
			ID:               r.ID,
			SourceID:         r.SourceEntityID,
			TargetID:         r.TargetEntityID,
			Type:             r.RelationType,
			Confidence:       r.Confidence,
			Evidence:         r.Evidence,
			SourceDocumentID: r.SourceDocument,
			ExtractionMethod: r.ExtractionMethod,
		})
		idSet[r.SourceEntityID] = true
		idSet[r.TargetEntityID] = true
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	nodeRecs, err := g.store.EntitiesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	nodeList, err := fromRecords(nodeRecs)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]*Entity, len(nodeList))
	for _, ent := range nodeList {
		nodes[ent.ID] = ent
	}

	return traverse(nodes, rels, seeds, p), nil
}

// DeleteForDocument drops the document's occurrences and prunes orphans.
func (g *SQLStore) DeleteForDocument(ctx context.Context, documentID string) error {
	return g.store.DeleteEntitiesForDocument(ctx, documentID)
}

// HealthCheck reports database reachability.
func (g *SQLStore) HealthCheck(ctx context.Context) error {
	return g.store.HealthCheck(ctx)
}

func toRecord(ent *Entity) (*store.EntityRecord, error) {
	var meta json.RawMessage
	if len(ent.Metadata) > 0 {
		b, err := json.Marshal(ent.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entity metadata: %w", err)
		}
		meta = b
	}
	return &store.EntityRecord{
		ID:            ent.ID,
		EntityType:    ent.Type,
		CanonicalForm: ent.CanonicalForm,
		Aliases:       ent.Aliases,
		Confidence:    ent.Confidence,
		Metadata:      meta,
	}, nil
}

func fromRecords(recs []*store.EntityRecord) ([]*Entity, error) {
	out := make([]*Entity, 0, len(recs))
	for _, r := range recs {
		ent := &Entity{
			ID:            r.ID,
			Type:          r.EntityType,
			CanonicalForm: r.CanonicalForm,
			Aliases:       r.Aliases,
			Confidence:    r.Confidence,
		}
		if len(r.Metadata) > 0 && string(r.Metadata) != "{}" {
			if err := json.Unmarshal(r.Metadata, &ent.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entity metadata: %w", err)
			}
		}
		out = append(out, ent)
	}
	return out, nil
}
