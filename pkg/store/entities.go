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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// EntityRecord mirrors one knowledge-graph entity in the relational store.
// The graph package owns resolution; this is the durable side.
type EntityRecord struct {
	ID            string          `json:"id"`
	EntityType    string          `json:"entityType"`
	CanonicalForm string          `json:"canonicalForm"`
	Aliases       []string        `json:"aliases,omitempty"`
	Confidence    float64         `json:"confidence"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// OccurrenceRecord ties an entity to a chunk.
type OccurrenceRecord struct {
	EntityID   string `json:"entityId"`
	DocumentID string `json:"documentId"`
	ChunkID    string `json:"chunkId"`
	Position   int    `json:"position"`
	Snippet    string `json:"snippet,omitempty"`
}

// RelationshipRecord is one directed edge between entities.
type RelationshipRecord struct {
	ID               string  `json:"id"`
	SourceEntityID   string  `json:"sourceEntityId"`
	TargetEntityID   string  `json:"targetEntityId"`
	RelationType     string  `json:"relationType"`
	Confidence       float64 `json:"confidence"`
	Evidence         string  `json:"evidence,omitempty"`
	SourceDocument   string  `json:"sourceDocument,omitempty"`
	ExtractionMethod string  `json:"extractionMethod"`
}

// UpsertEntity inserts or merges one entity by (type, canonical form).
// On conflict aliases are unioned and the higher confidence wins.
func (s *Store) UpsertEntity(ctx context.Context, e *EntityRecord) error {
	meta := e.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage("{}")
	}

	const q = `INSERT INTO entities (id, entity_type, canonical_form, aliases, confidence, metadata)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (entity_type, canonical_form) DO UPDATE SET
	    aliases = (SELECT ARRAY(SELECT DISTINCT unnest(entities.aliases || EXCLUDED.aliases))),
	    confidence = GREATEST(entities.confidence, EXCLUDED.confidence)`

	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.EntityType, e.CanonicalForm, pq.Array(e.Aliases), e.Confidence, []byte(meta))
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// InsertOccurrences appends entity occurrences for a document.
func (s *Store) InsertOccurrences(ctx context.Context, occs []OccurrenceRecord) error {
	if len(occs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO entity_occurrences (entity_id, document_id, chunk_id, position, snippet)
	VALUES ($1, $2, $3, $4, $5)`
	for _, o := range occs {
		if _, err := tx.ExecContext(ctx, q, o.EntityID, o.DocumentID, o.ChunkID, o.Position, o.Snippet); err != nil {
			return fmt.Errorf("failed to insert occurrence: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertRelationship inserts one relationship edge.
func (s *Store) UpsertRelationship(ctx context.Context, r *RelationshipRecord) error {
	const q = `INSERT INTO entity_relationships
	    (id, source_entity_id, target_entity_id, relation_type, confidence,
	     evidence, source_document, extraction_method)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
	    confidence = GREATEST(entity_relationships.confidence, EXCLUDED.confidence),
	    evidence = EXCLUDED.evidence`

	_, err := s.db.ExecContext(ctx, q,
		r.ID, r.SourceEntityID, r.TargetEntityID, r.RelationType, r.Confidence,
		r.Evidence, r.SourceDocument, r.ExtractionMethod)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

// EntitiesForDocument returns the entities occurring in a document.
func (s *Store) EntitiesForDocument(ctx context.Context, documentID string) ([]*EntityRecord, error) {
	const q = `SELECT DISTINCT e.id, e.entity_type, e.canonical_form, e.aliases, e.confidence, e.metadata
	FROM entities e
	JOIN entity_occurrences o ON o.entity_id = e.id
	WHERE o.document_id = $1
	ORDER BY e.canonical_form`

	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document entities: %w", err)
	}
	defer rows.Close()

	var out []*EntityRecord
	for rows.Next() {
		e := &EntityRecord{}
		var meta []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.CanonicalForm,
			pq.Array(&e.Aliases), &e.Confidence, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Metadata = json.RawMessage(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindEntitiesByText matches normalized mentions against canonical forms
// and aliases.
func (s *Store) FindEntitiesByText(ctx context.Context, texts []string) ([]*EntityRecord, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const q = `SELECT id, entity_type, canonical_form, aliases, confidence, metadata
	FROM entities
	WHERE canonical_form = ANY($1)
	   OR EXISTS (SELECT 1 FROM unnest(aliases) a WHERE lower(a) = ANY($1))
	ORDER BY canonical_form`

	rows, err := s.db.QueryContext(ctx, q, pq.Array(texts))
	if err != nil {
		return nil, fmt.Errorf("failed to find entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// EntitiesByIDs fetches entities by id.
func (s *Store) EntitiesByIDs(ctx context.Context, ids []string) ([]*EntityRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const q = `SELECT id, entity_type, canonical_form, aliases, confidence, metadata
	FROM entities WHERE id = ANY($1) ORDER BY canonical_form`

	rows, err := s.db.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// AllRelationships returns every edge. The graph is small relative to the
// corpus, so traversal loads it whole and walks in memory.
func (s *Store) AllRelationships(ctx context.Context) ([]*RelationshipRecord, error) {
	const q = `SELECT id, source_entity_id, target_entity_id, relation_type,
	    confidence, COALESCE(evidence, ''), COALESCE(source_document, ''), extraction_method
	FROM entity_relationships`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var out []*RelationshipRecord
	for rows.Next() {
		r := &RelationshipRecord{}
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationType,
			&r.Confidence, &r.Evidence, &r.SourceDocument, &r.ExtractionMethod); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanEntities(rows *sql.Rows) ([]*EntityRecord, error) {
	var out []*EntityRecord
	for rows.Next() {
		e := &EntityRecord{}
		var meta []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.CanonicalForm,
			pq.Array(&e.Aliases), &e.Confidence, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Metadata = json.RawMessage(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntitiesForDocument removes a document's occurrences, then prunes
// entities and relationships left without any occurrence.
func (s *Store) DeleteEntitiesForDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_occurrences WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete occurrences: %w", err)
	}

	// Orphaned entities cascade-delete their relationships.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entities e WHERE NOT EXISTS
		    (SELECT 1 FROM entity_occurrences o WHERE o.entity_id = e.id)`); err != nil {
		return fmt.Errorf("failed to prune orphaned entities: %w", err)
	}

	return tx.Commit()
}
