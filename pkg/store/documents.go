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

	"github.com/lib/pq"
)

// Visibility levels for a document.
const (
	VisibilityPublic        = "public"
	VisibilityDepartment    = "department"
	VisibilitySpecificUsers = "specific_users"
	VisibilityPrivate       = "private"
)

// Document is the access-control record for an indexed document.
type Document struct {
	ID            string    `json:"id"`
	OriginalName  string    `json:"originalName"`
	DisplayName   string    `json:"displayName"`
	OwnerID       string    `json:"ownerId"`
	Visibility    string    `json:"visibility"`
	Department    string    `json:"department,omitempty"`
	SpecificUsers []string  `json:"specificUsers,omitempty"`
	SizeBytes     int64     `json:"sizeBytes"`
	PageCount     int       `json:"pageCount"`
	UploadTS      time.Time `json:"uploadTs"`
}

// CanView reports whether uc may read the document. Admins see everything;
// owners always see their own documents regardless of visibility.
func (d *Document) CanView(uc UserContext) bool {
	if uc.Role == RoleAdmin || d.OwnerID == uc.UserID {
		return true
	}
	switch d.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityDepartment:
		return d.Department != "" && d.Department == uc.Department
	case VisibilitySpecificUsers:
		for _, u := range d.SpecificUsers {
			if u == uc.UserID {
				return true
			}
		}
	}
	return false
}

// UpsertDocument inserts or replaces a document record.
func (s *Store) UpsertDocument(ctx context.Context, d *Document) error {
	if d.UploadTS.IsZero() {
		d.UploadTS = time.Now().UTC()
	}

	const q = `INSERT INTO documents
	    (id, original_name, display_name, owner_id, visibility, department, specific_users, size_bytes, page_count, upload_ts)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
	    original_name = EXCLUDED.original_name,
	    display_name = EXCLUDED.display_name,
	    owner_id = EXCLUDED.owner_id,
	    visibility = EXCLUDED.visibility,
	    department = EXCLUDED.department,
	    specific_users = EXCLUDED.specific_users,
	    size_bytes = EXCLUDED.size_bytes,
	    page_count = EXCLUDED.page_count`

	_, err := s.db.ExecContext(ctx, q,
		d.ID, d.OriginalName, d.DisplayName, d.OwnerID, d.Visibility,
		d.Department, pq.Array(d.SpecificUsers), d.SizeBytes, d.PageCount, d.UploadTS)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by id without permission filtering.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `SELECT id, original_name, display_name, owner_id, visibility,
	    department, specific_users, size_bytes, page_count, upload_ts
	FROM documents WHERE id = $1`

	d := &Document{}
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.OriginalName, &d.DisplayName, &d.OwnerID, &d.Visibility,
		&d.Department, pq.Array(&d.SpecificUsers), &d.SizeBytes, &d.PageCount, &d.UploadTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// DeleteDocument removes a document and its chunk metadata.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// AllowedDocumentIDs returns the ids of all documents uc may read.
//
// The query runs under row-level security: the policy on documents does the
// visibility filtering, so a plain SELECT returns exactly the visible rows.
func (s *Store) AllowedDocumentIDs(ctx context.Context, uc UserContext) ([]string, error) {
	var ids []string
	err := s.WithUserContext(ctx, uc, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM documents`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list allowed documents: %w", err)
	}
	return ids, nil
}

// ListDocuments returns the documents visible to uc.
func (s *Store) ListDocuments(ctx context.Context, uc UserContext) ([]*Document, error) {
	var docs []*Document
	err := s.WithUserContext(ctx, uc, func(tx *sql.Tx) error {
		const q = `SELECT id, original_name, display_name, owner_id, visibility,
		    department, specific_users, size_bytes, page_count, upload_ts
		FROM documents ORDER BY upload_ts DESC`

		rows, err := tx.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			d := &Document{}
			if err := rows.Scan(
				&d.ID, &d.OriginalName, &d.DisplayName, &d.OwnerID, &d.Visibility,
				&d.Department, pq.Array(&d.SpecificUsers), &d.SizeBytes, &d.PageCount, &d.UploadTS); err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}
