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

package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/docrag/pkg/store"
	"github.com/kadirpekel/docrag/pkg/vector"
)

const previewLimit = 500

// Outcome is what the pipeline produced for one evaluated query.
type Outcome struct {
	Answer       string
	Hits         []vector.SearchHit
	Groundedness float64
	LatencyMs    int64
}

// Target is the system under evaluation. The harness only needs to run a
// query and see what came back.
type Target interface {
	Run(ctx context.Context, query string, user store.UserContext) (*Outcome, error)
}

// evalUser sees every document so retrieval quality is measured without
// permission filtering in the way.
var evalUser = store.UserContext{UserID: "evaluation-harness", Role: store.RoleAdmin}

// RunStore is the persistence surface the harness needs.
type RunStore interface {
	ListGoldenQueries(ctx context.Context, category string) ([]*store.GoldenQuery, error)
	CreateEvaluationRun(ctx context.Context, run *store.EvaluationRun) error
	MarkRunRunning(ctx context.Context, id string) error
	SaveEvaluationResult(ctx context.Context, r *store.EvaluationResult) error
	CompleteRun(ctx context.Context, run *store.EvaluationRun) error
	FailRun(ctx context.Context, id, message string) error
	GetEvaluationRun(ctx context.Context, id string) (*store.EvaluationRun, error)
}

// Harness runs the golden queries against a target and persists the results.
type Harness struct {
	store  RunStore
	target Target
	logger *slog.Logger
}

// New creates an evaluation harness.
func New(st RunStore, target Target, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{store: st, target: target, logger: logger.With("component", "evaluation")}
}

type categoryStats struct {
	Count        int     `json:"count"`
	Precision5   float64 `json:"avgPrecisionAt5"`
	Recall20     float64 `json:"avgRecallAt20"`
	MRR          float64 `json:"avgMrr"`
	Groundedness float64 `json:"avgGroundedness"`
	LatencyMs    float64 `json:"avgLatencyMs"`
}

// Run executes every golden query (optionally filtered by category) and
// returns the completed run. Individual query failures are recorded and do
// not abort the run; only context cancellation and store errors do.
func (h *Harness) Run(ctx context.Context, version, category string, cfg json.RawMessage) (*store.EvaluationRun, error) {
	run, goldens, err := h.begin(ctx, version, category, cfg)
	if err != nil {
		return nil, err
	}
	if err := h.execute(ctx, run, goldens); err != nil {
		return nil, err
	}
	return run, nil
}

// Start creates the run and executes it in the background, returning the run
// id immediately. Callers poll the run status for completion. The background
// execution survives cancellation of the caller's context.
func (h *Harness) Start(ctx context.Context, version, category string, cfg json.RawMessage) (string, error) {
	run, goldens, err := h.begin(ctx, version, category, cfg)
	if err != nil {
		return "", err
	}

	go func() {
		if err := h.execute(context.WithoutCancel(ctx), run, goldens); err != nil {
			h.logger.Warn("background evaluation run failed", "run_id", run.ID, "error", err)
		}
	}()
	return run.ID, nil
}

// begin loads the golden set and persists the pending run record.
func (h *Harness) begin(ctx context.Context, version, category string, cfg json.RawMessage) (*store.EvaluationRun, []*store.GoldenQuery, error) {
	goldens, err := h.store.ListGoldenQueries(ctx, category)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load golden queries: %w", err)
	}
	if len(goldens) == 0 {
		return nil, nil, fmt.Errorf("no golden queries to evaluate")
	}

	run := &store.EvaluationRun{ID: uuid.NewString(), Version: version, Config: cfg}
	if err := h.store.CreateEvaluationRun(ctx, run); err != nil {
		return nil, nil, err
	}
	if err := h.store.MarkRunRunning(ctx, run.ID); err != nil {
		return nil, nil, err
	}
	h.logger.Info("evaluation run started", "run_id", run.ID, "version", version, "queries", len(goldens))
	return run, goldens, nil
}

func (h *Harness) execute(ctx context.Context, run *store.EvaluationRun, goldens []*store.GoldenQuery) error {
	perCategory := map[string]*categoryStats{}
	evaluated := 0

	for _, g := range goldens {
		if ctx.Err() != nil {
			_ = h.store.FailRun(context.WithoutCancel(ctx), run.ID, ctx.Err().Error())
			return ctx.Err()
		}

		m, result, err := h.evaluateQuery(ctx, run.ID, g)
		if err != nil {
			h.logger.Warn("golden query failed", "golden_id", g.ID, "error", err)
			result = &store.EvaluationResult{
				RunID:           run.ID,
				GoldenID:        g.ID,
				ResponsePreview: truncate(err.Error(), previewLimit),
				Metrics:         json.RawMessage("{}"),
			}
			m = &QueryMetrics{}
		}

		if err := h.store.SaveEvaluationResult(ctx, result); err != nil {
			_ = h.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error())
			return err
		}

		evaluated++
		run.AvgPrecision5 += m.Retrieval.PrecisionAt[5]
		run.AvgRecall20 += m.Retrieval.RecallAt[20]
		run.AvgMRR += m.Retrieval.MRR
		run.AvgGroundedness += m.Generation.Groundedness
		run.AvgLatencyMs += float64(m.LatencyMs)

		cs := perCategory[g.Category]
		if cs == nil {
			cs = &categoryStats{}
			perCategory[g.Category] = cs
		}
		cs.Count++
		cs.Precision5 += m.Retrieval.PrecisionAt[5]
		cs.Recall20 += m.Retrieval.RecallAt[20]
		cs.MRR += m.Retrieval.MRR
		cs.Groundedness += m.Generation.Groundedness
		cs.LatencyMs += float64(m.LatencyMs)
	}

	n := float64(evaluated)
	run.AvgPrecision5 /= n
	run.AvgRecall20 /= n
	run.AvgMRR /= n
	run.AvgGroundedness /= n
	run.AvgLatencyMs /= n

	for _, cs := range perCategory {
		cn := float64(cs.Count)
		cs.Precision5 /= cn
		cs.Recall20 /= cn
		cs.MRR /= cn
		cs.Groundedness /= cn
		cs.LatencyMs /= cn
	}
	run.PerCategory, _ = json.Marshal(perCategory)

	if err := h.store.CompleteRun(ctx, run); err != nil {
		return err
	}
	run.Status = store.RunCompleted

	h.logger.Info("evaluation run completed", "run_id", run.ID,
		"avg_precision5", run.AvgPrecision5, "avg_recall20", run.AvgRecall20,
		"avg_groundedness", run.AvgGroundedness)
	return nil
}

func (h *Harness) evaluateQuery(ctx context.Context, runID string, g *store.GoldenQuery) (*QueryMetrics, *store.EvaluationResult, error) {
	started := time.Now()
	outcome, err := h.target.Run(ctx, g.Query, evalUser)
	if err != nil {
		return nil, nil, err
	}

	latency := outcome.LatencyMs
	if latency == 0 {
		latency = time.Since(started).Milliseconds()
	}

	chunkIDs := make([]string, 0, len(outcome.Hits))
	var docIDs []string
	seenDocs := map[string]bool{}
	for _, hit := range outcome.Hits {
		chunkIDs = append(chunkIDs, hit.ChunkID)
		if !seenDocs[hit.DocumentID] {
			seenDocs[hit.DocumentID] = true
			docIDs = append(docIDs, hit.DocumentID)
		}
	}

	// Chunk-level judgments when the golden query labels chunks, document
	// level otherwise.
	var retrieval RetrievalMetrics
	if len(g.RelevantChunkIDs) > 0 {
		retrieval = ScoreRetrieval(chunkIDs, g.RelevantChunkIDs)
	} else {
		retrieval = ScoreRetrieval(docIDs, g.RelevantDocIDs)
	}

	m := &QueryMetrics{
		Retrieval: retrieval,
		Generation: GenerationMetrics{
			Groundedness:          outcome.Groundedness,
			AnswerRelevance:       AnswerRelevance(g.Query, outcome.Answer),
			KeyFactsCovered:       KeyFactsCovered(outcome.Answer, g.KeyFacts),
			HallucinationDetected: HallucinationDetected(outcome.Answer, g.ForbiddenContent),
		},
		LatencyMs: latency,
	}

	metricsJSON, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	result := &store.EvaluationResult{
		RunID:           runID,
		GoldenID:        g.ID,
		RetrievedChunks: chunkIDs,
		RetrievedDocs:   docIDs,
		ResponsePreview: truncate(outcome.Answer, previewLimit),
		Metrics:         metricsJSON,
	}
	return m, result, nil
}

// Comparison holds the metric deltas between two runs. Quality deltas are
// B minus A, so a positive delta means B improved. Latency is lower-is-better
// and reports A minus B, so a positive delta means B got faster.
type Comparison struct {
	RunA *store.EvaluationRun `json:"runA"`
	RunB *store.EvaluationRun `json:"runB"`

	DeltaPrecision5   float64 `json:"deltaPrecisionAt5"`
	DeltaRecall20     float64 `json:"deltaRecallAt20"`
	DeltaMRR          float64 `json:"deltaMrr"`
	DeltaGroundedness float64 `json:"deltaGroundedness"`
	DeltaLatencyMs    float64 `json:"deltaLatencyMs"`
}

// Compare loads two completed runs and reports the deltas of B relative to A.
func (h *Harness) Compare(ctx context.Context, runA, runB string) (*Comparison, error) {
	a, err := h.store.GetEvaluationRun(ctx, runA)
	if err != nil {
		return nil, err
	}
	b, err := h.store.GetEvaluationRun(ctx, runB)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, fmt.Errorf("evaluation run not found")
	}

	return &Comparison{
		RunA:              a,
		RunB:              b,
		DeltaPrecision5:   b.AvgPrecision5 - a.AvgPrecision5,
		DeltaRecall20:     b.AvgRecall20 - a.AvgRecall20,
		DeltaMRR:          b.AvgMRR - a.AvgMRR,
		DeltaGroundedness: b.AvgGroundedness - a.AvgGroundedness,
		DeltaLatencyMs:    a.AvgLatencyMs - b.AvgLatencyMs,
	}, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
