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

// migrations run in order inside one transaction each. Statements are
// idempotent so repeated startup is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
    id              TEXT PRIMARY KEY,
    original_name   TEXT NOT NULL,
    display_name    TEXT NOT NULL DEFAULT '',
    owner_id        TEXT NOT NULL,
    visibility      TEXT NOT NULL DEFAULT 'private',
    department      TEXT NOT NULL DEFAULT '',
    specific_users  TEXT[] NOT NULL DEFAULT '{}',
    size_bytes      BIGINT NOT NULL DEFAULT 0,
    page_count      INTEGER NOT NULL DEFAULT 0,
    upload_ts       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
CREATE INDEX IF NOT EXISTS idx_documents_visibility ON documents(visibility);`,

	`ALTER TABLE documents ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS documents_visibility ON documents;
CREATE POLICY documents_visibility ON documents FOR SELECT USING (
    current_setting('app.user_role', true) = 'admin'
    OR owner_id = current_setting('app.user_id', true)
    OR visibility = 'public'
    OR (visibility = 'department'
        AND department = current_setting('app.user_department', true))
    OR (visibility = 'specific_users'
        AND current_setting('app.user_id', true) = ANY(specific_users))
);`,

	`CREATE TABLE IF NOT EXISTS chunk_metadata (
    document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_id        TEXT NOT NULL,
    chunk_index     INTEGER NOT NULL,
    level           INTEGER NOT NULL DEFAULT 2,
    parent_chunk_id TEXT,
    path            TEXT NOT NULL DEFAULT '',
    method          TEXT NOT NULL DEFAULT '',
    page_start      INTEGER NOT NULL DEFAULT 0,
    page_end        INTEGER NOT NULL DEFAULT 0,
    token_count     INTEGER NOT NULL DEFAULT 0,
    char_count      INTEGER NOT NULL DEFAULT 0,
    content         TEXT NOT NULL DEFAULT '',
    UNIQUE (document_id, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_chunk_metadata_document ON chunk_metadata(document_id);`,

	`CREATE TABLE IF NOT EXISTS rag_traces (
    trace_id           TEXT PRIMARY KEY,
    timestamp          TIMESTAMPTZ NOT NULL DEFAULT now(),
    user_id_hash       TEXT NOT NULL,
    session_id         TEXT NOT NULL DEFAULT '',
    query_length       INTEGER NOT NULL DEFAULT 0,
    query_type         TEXT NOT NULL DEFAULT '',
    retrieval_strategy TEXT NOT NULL DEFAULT '',
    success            BOOLEAN NOT NULL DEFAULT true,
    total_latency_ms   BIGINT NOT NULL DEFAULT 0,
    tokens_used        INTEGER NOT NULL DEFAULT 0,
    chunks_retrieved   INTEGER NOT NULL DEFAULT 0,
    chunks_used        INTEGER NOT NULL DEFAULT 0,
    groundedness       DOUBLE PRECISION,
    spans              JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_rag_traces_timestamp ON rag_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_rag_traces_type ON rag_traces(query_type);`,

	`CREATE TABLE IF NOT EXISTS monitoring_alerts (
    id              TEXT PRIMARY KEY,
    alert_type      TEXT NOT NULL,
    severity        TEXT NOT NULL,
    message         TEXT NOT NULL,
    metadata        JSONB NOT NULL DEFAULT '{}',
    acknowledged    BOOLEAN NOT NULL DEFAULT false,
    acknowledged_by TEXT,
    acknowledged_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_alerts_type_created ON monitoring_alerts(alert_type, created_at);`,

	`CREATE TABLE IF NOT EXISTS golden_dataset (
    id                 TEXT PRIMARY KEY,
    query              TEXT NOT NULL,
    expected_answer    TEXT NOT NULL DEFAULT '',
    relevant_doc_ids   TEXT[] NOT NULL DEFAULT '{}',
    relevant_chunk_ids TEXT[] NOT NULL DEFAULT '{}',
    category           TEXT NOT NULL DEFAULT 'factual',
    difficulty         TEXT NOT NULL DEFAULT 'medium',
    key_facts          TEXT[] NOT NULL DEFAULT '{}',
    forbidden_content  TEXT[] NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);`,

	`CREATE TABLE IF NOT EXISTS evaluation_runs (
    id             TEXT PRIMARY KEY,
    version        TEXT NOT NULL DEFAULT '',
    config         JSONB NOT NULL DEFAULT '{}',
    status         TEXT NOT NULL DEFAULT 'pending',
    error_message  TEXT NOT NULL DEFAULT '',
    avg_precision5 DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_recall20   DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_mrr        DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_groundedness DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
    per_category   JSONB NOT NULL DEFAULT '{}',
    started_at     TIMESTAMPTZ,
    completed_at   TIMESTAMPTZ
);`,

	`CREATE TABLE IF NOT EXISTS evaluation_results (
    run_id             TEXT NOT NULL REFERENCES evaluation_runs(id) ON DELETE CASCADE,
    golden_id          TEXT NOT NULL,
    retrieved_chunks   TEXT[] NOT NULL DEFAULT '{}',
    retrieved_docs     TEXT[] NOT NULL DEFAULT '{}',
    response_preview   TEXT NOT NULL DEFAULT '',
    metrics            JSONB NOT NULL DEFAULT '{}',
    latencies          JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (run_id, golden_id)
);`,

	`CREATE TABLE IF NOT EXISTS entities (
    id             TEXT PRIMARY KEY,
    entity_type    TEXT NOT NULL,
    canonical_form TEXT NOT NULL,
    aliases        TEXT[] NOT NULL DEFAULT '{}',
    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
    metadata       JSONB NOT NULL DEFAULT '{}',
    UNIQUE (entity_type, canonical_form)
);
CREATE TABLE IF NOT EXISTS entity_occurrences (
    entity_id   TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    document_id TEXT NOT NULL,
    chunk_id    TEXT NOT NULL,
    position    INTEGER NOT NULL DEFAULT 0,
    snippet     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_occurrences_entity ON entity_occurrences(entity_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_document ON entity_occurrences(document_id);
CREATE TABLE IF NOT EXISTS entity_relationships (
    id                TEXT PRIMARY KEY,
    source_entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    relation_type     TEXT NOT NULL,
    confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
    evidence          TEXT NOT NULL DEFAULT '',
    source_document   TEXT NOT NULL DEFAULT '',
    extraction_method TEXT NOT NULL DEFAULT 'pattern'
);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON entity_relationships(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON entity_relationships(target_entity_id);`,
}

// Migrate applies all schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
