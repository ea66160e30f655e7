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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Golden query categories.
const (
	CategoryFactual    = "factual"
	CategoryComparison = "comparison"
	CategorySummary    = "summary"
	CategoryProcedural = "procedural"
)

// GoldenQuery is one labeled query of the evaluation dataset.
type GoldenQuery struct {
	ID               string    `json:"id" yaml:"id"`
	Query            string    `json:"query" yaml:"query"`
	ExpectedAnswer   string    `json:"expectedAnswer,omitempty" yaml:"expectedAnswer"`
	RelevantDocIDs   []string  `json:"relevantDocIds" yaml:"relevantDocIds"`
	RelevantChunkIDs []string  `json:"relevantChunkIds,omitempty" yaml:"relevantChunkIds"`
	Category         string    `json:"category" yaml:"category"`
	Difficulty       string    `json:"difficulty" yaml:"difficulty"`
	KeyFacts         []string  `json:"keyFacts,omitempty" yaml:"keyFacts"`
	ForbiddenContent []string  `json:"forbiddenContent,omitempty" yaml:"forbiddenContent"`
	CreatedAt        time.Time `json:"createdAt" yaml:"-"`
}

// SaveGoldenQuery inserts or updates one golden query. A missing id is
// generated.
func (s *Store) SaveGoldenQuery(ctx context.Context, g *GoldenQuery) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Category == "" {
		g.Category = CategoryFactual
	}
	if g.Difficulty == "" {
		g.Difficulty = "medium"
	}

	const q = `INSERT INTO golden_dataset
	    (id, query, expected_answer, relevant_doc_ids, relevant_chunk_ids,
	     category, difficulty, key_facts, forbidden_content)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
	    query = EXCLUDED.query,
	    expected_answer = EXCLUDED.expected_answer,
	    relevant_doc_ids = EXCLUDED.relevant_doc_ids,
	    relevant_chunk_ids = EXCLUDED.relevant_chunk_ids,
	    category = EXCLUDED.category,
	    difficulty = EXCLUDED.difficulty,
	    key_facts = EXCLUDED.key_facts,
	    forbidden_content = EXCLUDED.forbidden_content`

	_, err := s.db.ExecContext(ctx, q,
		g.ID, g.Query, g.ExpectedAnswer, pq.Array(g.RelevantDocIDs), pq.Array(g.RelevantChunkIDs),
		g.Category, g.Difficulty, pq.Array(g.KeyFacts), pq.Array(g.ForbiddenContent))
	if err != nil {
		return fmt.Errorf("failed to save golden query: %w", err)
	}
	return nil
}

// ImportGoldenQueries bulk-saves a batch inside one transaction.
func (s *Store) ImportGoldenQueries(ctx context.Context, queries []*GoldenQuery) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO golden_dataset
	    (id, query, expected_answer, relevant_doc_ids, relevant_chunk_ids,
	     category, difficulty, key_facts, forbidden_content)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`

	for _, g := range queries {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		if g.Category == "" {
			g.Category = CategoryFactual
		}
		if _, err := tx.ExecContext(ctx, q,
			g.ID, g.Query, g.ExpectedAnswer, pq.Array(g.RelevantDocIDs), pq.Array(g.RelevantChunkIDs),
			g.Category, g.Difficulty, pq.Array(g.KeyFacts), pq.Array(g.ForbiddenContent)); err != nil {
			return fmt.Errorf("failed to import golden query %s: %w", g.ID, err)
		}
	}

	return tx.Commit()
}

// ListGoldenQueries returns the dataset, optionally filtered by category.
func (s *Store) ListGoldenQueries(ctx context.Context, category string) ([]*GoldenQuery, error) {
	q := `SELECT id, query, expected_answer, relevant_doc_ids, relevant_chunk_ids,
	    category, difficulty, key_facts, forbidden_content, created_at
	FROM golden_dataset`
	args := []any{}
	if category != "" {
		q += ` WHERE category = $1`
		args = append(args, category)
	}
	q += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query golden dataset: %w", err)
	}
	defer rows.Close()

	var out []*GoldenQuery
	for rows.Next() {
		g := &GoldenQuery{}
		if err := rows.Scan(&g.ID, &g.Query, &g.ExpectedAnswer,
			pq.Array(&g.RelevantDocIDs), pq.Array(&g.RelevantChunkIDs),
			&g.Category, &g.Difficulty, pq.Array(&g.KeyFacts),
			pq.Array(&g.ForbiddenContent), &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan golden query: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGoldenQuery fetches one golden query by id.
func (s *Store) GetGoldenQuery(ctx context.Context, id string) (*GoldenQuery, error) {
	const q = `SELECT id, query, expected_answer, relevant_doc_ids, relevant_chunk_ids,
	    category, difficulty, key_facts, forbidden_content, created_at
	FROM golden_dataset WHERE id = $1`

	g := &GoldenQuery{}
	err := s.db.QueryRowContext(ctx, q, id).Scan(&g.ID, &g.Query, &g.ExpectedAnswer,
		pq.Array(&g.RelevantDocIDs), pq.Array(&g.RelevantChunkIDs),
		&g.Category, &g.Difficulty, pq.Array(&g.KeyFacts),
		pq.Array(&g.ForbiddenContent), &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get golden query: %w", err)
	}
	return g, nil
}

// DeleteGoldenQuery removes one golden query.
func (s *Store) DeleteGoldenQuery(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM golden_dataset WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete golden query: %w", err)
	}
	return nil
}
