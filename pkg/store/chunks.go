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
	"fmt"
)

// ChunkMetadata mirrors one chunk of the vector index in the relational
// store. It carries the hierarchy fields used by document expansion.
type ChunkMetadata struct {
	DocumentID    string `json:"documentId"`
	ChunkID       string `json:"chunkId"`
	ChunkIndex    int    `json:"chunkIndex"`
	Level         int    `json:"level"`
	ParentChunkID string `json:"parentChunkId,omitempty"`
	Path          string `json:"path,omitempty"`
	Method        string `json:"method,omitempty"`
	PageStart     int    `json:"pageStart"`
	PageEnd       int    `json:"pageEnd"`
	TokenCount    int    `json:"tokenCount"`
	CharCount     int    `json:"charCount"`
	Content       string `json:"content,omitempty"`
}

// UpsertChunks replaces the chunk metadata for the chunks given. The unique
// (document_id, chunk_id) constraint makes re-indexing idempotent.
func (s *Store) UpsertChunks(ctx context.Context, chunks []ChunkMetadata) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO chunk_metadata
	    (document_id, chunk_id, chunk_index, level, parent_chunk_id, path, method,
	     page_start, page_end, token_count, char_count, content)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (document_id, chunk_id) DO UPDATE SET
	    chunk_index = EXCLUDED.chunk_index,
	    level = EXCLUDED.level,
	    parent_chunk_id = EXCLUDED.parent_chunk_id,
	    path = EXCLUDED.path,
	    method = EXCLUDED.method,
	    page_start = EXCLUDED.page_start,
	    page_end = EXCLUDED.page_end,
	    token_count = EXCLUDED.token_count,
	    char_count = EXCLUDED.char_count,
	    content = EXCLUDED.content`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var parent any
		if c.ParentChunkID != "" {
			parent = c.ParentChunkID
		}
		if _, err := stmt.ExecContext(ctx,
			c.DocumentID, c.ChunkID, c.ChunkIndex, c.Level, parent, c.Path, c.Method,
			c.PageStart, c.PageEnd, c.TokenCount, c.CharCount, c.Content); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ChunkID, err)
		}
	}

	return tx.Commit()
}

// ChunksForDocument returns the chunk metadata for one document, ordered by
// chunk index.
func (s *Store) ChunksForDocument(ctx context.Context, documentID string) ([]ChunkMetadata, error) {
	const q = `SELECT document_id, chunk_id, chunk_index, level,
	    COALESCE(parent_chunk_id, ''), path, method,
	    page_start, page_end, token_count, char_count, content
	FROM chunk_metadata WHERE document_id = $1 ORDER BY chunk_index`

	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkMetadata
	for rows.Next() {
		var c ChunkMetadata
		if err := rows.Scan(
			&c.DocumentID, &c.ChunkID, &c.ChunkIndex, &c.Level,
			&c.ParentChunkID, &c.Path, &c.Method,
			&c.PageStart, &c.PageEnd, &c.TokenCount, &c.CharCount, &c.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
