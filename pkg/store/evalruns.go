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
	"time"

	"github.com/lib/pq"
)

// Evaluation run states.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// EvaluationRun is one harness execution with its aggregate metrics.
type EvaluationRun struct {
	ID              string          `json:"id"`
	Version         string          `json:"version"`
	Config          json.RawMessage `json:"config"`
	Status          string          `json:"status"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	AvgPrecision5   float64         `json:"avgPrecisionAt5"`
	AvgRecall20     float64         `json:"avgRecallAt20"`
	AvgMRR          float64         `json:"avgMrr"`
	AvgGroundedness float64         `json:"avgGroundedness"`
	AvgLatencyMs    float64         `json:"avgLatencyMs"`
	PerCategory     json.RawMessage `json:"perCategory,omitempty"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// EvaluationResult is the per-query record of one run.
type EvaluationResult struct {
	RunID           string          `json:"runId"`
	GoldenID        string          `json:"goldenId"`
	RetrievedChunks []string        `json:"retrievedChunks"`
	RetrievedDocs   []string        `json:"retrievedDocs"`
	ResponsePreview string          `json:"responsePreview,omitempty"`
	Metrics         json.RawMessage `json:"metrics"`
	Latencies       json.RawMessage `json:"latencies,omitempty"`
}

// CreateEvaluationRun inserts a pending run.
func (s *Store) CreateEvaluationRun(ctx context.Context, run *EvaluationRun) error {
	cfg := run.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}

	const q = `INSERT INTO evaluation_runs (id, version, config, status)
	VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, q, run.ID, run.Version, []byte(cfg), RunPending); err != nil {
		return fmt.Errorf("failed to create evaluation run: %w", err)
	}
	run.Status = RunPending
	return nil
}

// MarkRunRunning moves a run to running and stamps the start time.
func (s *Store) MarkRunRunning(ctx context.Context, id string) error {
	const q = `UPDATE evaluation_runs SET status = $2, started_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, RunRunning); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

// CompleteRun persists the aggregates and moves the run to completed.
func (s *Store) CompleteRun(ctx context.Context, run *EvaluationRun) error {
	per := run.PerCategory
	if len(per) == 0 {
		per = json.RawMessage("{}")
	}

	const q = `UPDATE evaluation_runs SET
	    status = $2, avg_precision5 = $3, avg_recall20 = $4, avg_mrr = $5,
	    avg_groundedness = $6, avg_latency_ms = $7, per_category = $8,
	    completed_at = now()
	WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, run.ID, RunCompleted,
		run.AvgPrecision5, run.AvgRecall20, run.AvgMRR,
		run.AvgGroundedness, run.AvgLatencyMs, []byte(per)); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// FailRun moves a run to failed with the error message.
func (s *Store) FailRun(ctx context.Context, id, message string) error {
	const q = `UPDATE evaluation_runs SET status = $2, error_message = $3, completed_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id, RunFailed, message); err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// GetEvaluationRun fetches one run.
func (s *Store) GetEvaluationRun(ctx context.Context, id string) (*EvaluationRun, error) {
	const q = `SELECT id, version, config, status, error_message,
	    avg_precision5, avg_recall20, avg_mrr, avg_groundedness, avg_latency_ms,
	    per_category, started_at, completed_at
	FROM evaluation_runs WHERE id = $1`

	run := &EvaluationRun{}
	var cfg, per []byte
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&run.ID, &run.Version, &cfg, &run.Status, &run.ErrorMessage,
		&run.AvgPrecision5, &run.AvgRecall20, &run.AvgMRR, &run.AvgGroundedness,
		&run.AvgLatencyMs, &per, &run.StartedAt, &run.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation run: %w", err)
	}
	run.Config = json.RawMessage(cfg)
	run.PerCategory = json.RawMessage(per)
	return run, nil
}

// ListEvaluationRuns returns runs newest first.
func (s *Store) ListEvaluationRuns(ctx context.Context, limit int) ([]*EvaluationRun, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `SELECT id, version, config, status, error_message,
	    avg_precision5, avg_recall20, avg_mrr, avg_groundedness, avg_latency_ms,
	    per_category, started_at, completed_at
	FROM evaluation_runs ORDER BY started_at DESC NULLS LAST LIMIT $1`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluation runs: %w", err)
	}
	defer rows.Close()

	var out []*EvaluationRun
	for rows.Next() {
		run := &EvaluationRun{}
		var cfg, per []byte
		if err := rows.Scan(
			&run.ID, &run.Version, &cfg, &run.Status, &run.ErrorMessage,
			&run.AvgPrecision5, &run.AvgRecall20, &run.AvgMRR, &run.AvgGroundedness,
			&run.AvgLatencyMs, &per, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation run: %w", err)
		}
		run.Config = json.RawMessage(cfg)
		run.PerCategory = json.RawMessage(per)
		out = append(out, run)
	}
	return out, rows.Err()
}

// SaveEvaluationResult persists one per-query result.
func (s *Store) SaveEvaluationResult(ctx context.Context, r *EvaluationResult) error {
	metrics := r.Metrics
	if len(metrics) == 0 {
		metrics = json.RawMessage("{}")
	}
	latencies := r.Latencies
	if len(latencies) == 0 {
		latencies = json.RawMessage("{}")
	}

	const q = `INSERT INTO evaluation_results
	    (run_id, golden_id, retrieved_chunks, retrieved_docs, response_preview, metrics, latencies)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (run_id, golden_id) DO UPDATE SET
	    retrieved_chunks = EXCLUDED.retrieved_chunks,
	    retrieved_docs = EXCLUDED.retrieved_docs,
	    response_preview = EXCLUDED.response_preview,
	    metrics = EXCLUDED.metrics,
	    latencies = EXCLUDED.latencies`

	_, err := s.db.ExecContext(ctx, q, r.RunID, r.GoldenID,
		pq.Array(r.RetrievedChunks), pq.Array(r.RetrievedDocs),
		r.ResponsePreview, []byte(metrics), []byte(latencies))
	if err != nil {
		return fmt.Errorf("failed to save evaluation result: %w", err)
	}
	return nil
}

// ResultsForRun returns all per-query results of one run.
func (s *Store) ResultsForRun(ctx context.Context, runID string) ([]*EvaluationResult, error) {
	const q = `SELECT run_id, golden_id, retrieved_chunks, retrieved_docs,
	    response_preview, metrics, latencies
	FROM evaluation_results WHERE run_id = $1 ORDER BY golden_id`

	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluation results: %w", err)
	}
	defer rows.Close()

	var out []*EvaluationResult
	for rows.Next() {
		r := &EvaluationResult{}
		var metrics, latencies []byte
		if err := rows.Scan(&r.RunID, &r.GoldenID,
			pq.Array(&r.RetrievedChunks), pq.Array(&r.RetrievedDocs),
			&r.ResponsePreview, &metrics, &latencies); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation result: %w", err)
		}
		r.Metrics = json.RawMessage(metrics)
		r.Latencies = json.RawMessage(latencies)
		out = append(out, r)
	}
	return out, rows.Err()
}
