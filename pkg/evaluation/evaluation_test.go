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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/store"
	"github.com/kadirpekel/docrag/pkg/vector"
)

func TestScoreRetrieval(t *testing.T) {
	retrieved := []string{"c1", "c3", "c2", "c4", "c5"}
	m := ScoreRetrieval(retrieved, []string{"c1", "c2", "c9"})

	assert.Equal(t, 1.0, m.PrecisionAt[1])
	assert.InDelta(t, 2.0/3.0, m.PrecisionAt[3], 1e-9)
	assert.InDelta(t, 2.0/5.0, m.PrecisionAt[5], 1e-9)
	// Fewer than 10 retrieved, the cutoff still divides by k.
	assert.InDelta(t, 2.0/10.0, m.PrecisionAt[10], 1e-9)
	assert.InDelta(t, 2.0/3.0, m.RecallAt[5], 1e-9)
	assert.InDelta(t, 2.0/3.0, m.RecallAt[20], 1e-9)
	assert.Equal(t, 1.0, m.MRR)
}

func TestScoreRetrievalFirstHitLater(t *testing.T) {
	m := ScoreRetrieval([]string{"x", "y", "c1"}, []string{"c1"})
	assert.InDelta(t, 1.0/3.0, m.MRR, 1e-9)
	assert.Equal(t, 0.0, m.PrecisionAt[1])
}

func TestScoreRetrievalNoRelevantLabels(t *testing.T) {
	m := ScoreRetrieval([]string{"c1"}, nil)
	assert.Equal(t, 1.0, m.RecallAt[5])
	assert.Equal(t, 1.0, m.RecallAt[20])
	assert.Equal(t, 0.0, m.MRR)
}

func TestAnswerRelevance(t *testing.T) {
	q := "Wie viele Urlaubstage habe ich pro Jahr?"
	assert.Equal(t, 1.0, AnswerRelevance(q, "Sie haben 30 Urlaubstage pro Jahr."))
	assert.Equal(t, 0.0, AnswerRelevance(q, "Die Kantine öffnet um 11:30."))
	// A query of nothing but stopwords cannot be off topic.
	assert.Equal(t, 1.0, AnswerRelevance("was ist das", "irgendwas"))
}

func TestKeyFactsCovered(t *testing.T) {
	answer := "Mitarbeiter erhalten 30 Urlaubstage. Resturlaub verfällt Ende März."
	assert.Equal(t, 1.0, KeyFactsCovered(answer, []string{"30 Urlaubstage", "ende märz"}))
	assert.Equal(t, 0.5, KeyFactsCovered(answer, []string{"30 Urlaubstage", "Sonderurlaub"}))
	assert.Equal(t, 1.0, KeyFactsCovered(answer, nil))
}

func TestHallucinationDetected(t *testing.T) {
	assert.True(t, HallucinationDetected("Das Gehalt beträgt 80.000 Euro.", []string{"80.000"}))
	assert.False(t, HallucinationDetected("Dazu liegen keine Angaben vor.", []string{"80.000", ""}))
}

type fakeTarget struct {
	outcomes map[string]*Outcome
	errs     map[string]error
	lastUser store.UserContext
}

func (f *fakeTarget) Run(_ context.Context, query string, user store.UserContext) (*Outcome, error) {
	f.lastUser = user
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.outcomes[query], nil
}

type fakeRunStore struct {
	mu      sync.Mutex
	goldens []*store.GoldenQuery
	runs    map[string]*store.EvaluationRun
	results []*store.EvaluationResult
	failed  string
}

func newFakeRunStore(goldens ...*store.GoldenQuery) *fakeRunStore {
	return &fakeRunStore{goldens: goldens, runs: map[string]*store.EvaluationRun{}}
}

func (f *fakeRunStore) ListGoldenQueries(_ context.Context, category string) ([]*store.GoldenQuery, error) {
	if category == "" {
		return f.goldens, nil
	}
	var out []*store.GoldenQuery
	for _, g := range f.goldens {
		if g.Category == category {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRunStore) CreateEvaluationRun(_ context.Context, run *store.EvaluationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.Status = store.RunPending
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunStore) MarkRunRunning(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].Status = store.RunRunning
	return nil
}

func (f *fakeRunStore) SaveEvaluationResult(_ context.Context, r *store.EvaluationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func (f *fakeRunStore) CompleteRun(_ context.Context, run *store.EvaluationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.Status = store.RunCompleted
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunStore) FailRun(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = message
	if run, ok := f.runs[id]; ok {
		run.Status = store.RunFailed
	}
	return nil
}

func (f *fakeRunStore) GetEvaluationRun(_ context.Context, id string) (*store.EvaluationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id], nil
}

func (f *fakeRunStore) runStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[id]; ok {
		return run.Status
	}
	return ""
}

func hit(chunkID, docID string) vector.SearchHit {
	return vector.SearchHit{ChunkID: chunkID, DocumentID: docID, Content: "text"}
}

func TestHarnessRun(t *testing.T) {
	st := newFakeRunStore(
		&store.GoldenQuery{
			ID: "g1", Query: "Wie viele Urlaubstage?",
			Category:         store.CategoryFactual,
			RelevantChunkIDs: []string{"c1", "c2"},
			KeyFacts:         []string{"30 Urlaubstage"},
		},
		&store.GoldenQuery{
			ID: "g2", Query: "Vergleiche die Standorte",
			Category:       store.CategoryComparison,
			RelevantDocIDs: []string{"d9"},
		},
	)
	target := &fakeTarget{outcomes: map[string]*Outcome{
		"Wie viele Urlaubstage?": {
			Answer:       "Sie haben 30 Urlaubstage pro Jahr.",
			Hits:         []vector.SearchHit{hit("c1", "d1"), hit("c3", "d2"), hit("c2", "d1")},
			Groundedness: 0.8,
			LatencyMs:    100,
		},
		"Vergleiche die Standorte": {
			Answer:       "Standort Berlin ist größer als Standort Hamburg.",
			Hits:         []vector.SearchHit{hit("c7", "d9"), hit("c8", "d9")},
			Groundedness: 0.6,
			LatencyMs:    300,
		},
	}}

	run, err := New(st, target, nil).Run(context.Background(), "v1", "", json.RawMessage(`{"alpha":0.7}`))
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, store.RoleAdmin, target.lastUser.Role)

	// g1 chunk level: 2 of top 5 relevant. g2 doc level: d9 is the single
	// deduplicated doc, so precision@5 is 1/5.
	assert.InDelta(t, (2.0/5.0+1.0/5.0)/2.0, run.AvgPrecision5, 1e-9)
	assert.InDelta(t, 1.0, run.AvgRecall20, 1e-9)
	assert.InDelta(t, 1.0, run.AvgMRR, 1e-9)
	assert.InDelta(t, 0.7, run.AvgGroundedness, 1e-9)
	assert.InDelta(t, 200.0, run.AvgLatencyMs, 1e-9)

	var perCategory map[string]*categoryStats
	require.NoError(t, json.Unmarshal(run.PerCategory, &perCategory))
	require.Len(t, perCategory, 2)
	assert.Equal(t, 1, perCategory[store.CategoryFactual].Count)
	assert.InDelta(t, 0.8, perCategory[store.CategoryFactual].Groundedness, 1e-9)
	assert.InDelta(t, 300.0, perCategory[store.CategoryComparison].LatencyMs, 1e-9)

	require.Len(t, st.results, 2)
	assert.Equal(t, []string{"c1", "c3", "c2"}, st.results[0].RetrievedChunks)
	assert.Equal(t, []string{"d1", "d2"}, st.results[0].RetrievedDocs)
	assert.Contains(t, st.results[0].ResponsePreview, "30 Urlaubstage")

	var m QueryMetrics
	require.NoError(t, json.Unmarshal(st.results[0].Metrics, &m))
	assert.Equal(t, 1.0, m.Generation.KeyFactsCovered)
	assert.False(t, m.Generation.HallucinationDetected)
	assert.Equal(t, int64(100), m.LatencyMs)
}

func TestHarnessQueryFailureDoesNotAbortRun(t *testing.T) {
	st := newFakeRunStore(
		&store.GoldenQuery{ID: "g1", Query: "kaputt", Category: store.CategoryFactual},
		&store.GoldenQuery{ID: "g2", Query: "ok", Category: store.CategoryFactual},
	)
	target := &fakeTarget{
		errs: map[string]error{"kaputt": errors.New("backend down")},
		outcomes: map[string]*Outcome{
			"ok": {Answer: "Antwort", Hits: []vector.SearchHit{hit("c1", "d1")}, Groundedness: 1.0, LatencyMs: 50},
		},
	}

	run, err := New(st, target, nil).Run(context.Background(), "v1", "", nil)
	require.NoError(t, err)

	assert.Equal(t, store.RunCompleted, run.Status)
	require.Len(t, st.results, 2)
	assert.Contains(t, st.results[0].ResponsePreview, "backend down")
	// The failed query counts as zero in the averages.
	assert.InDelta(t, 0.5, run.AvgGroundedness, 1e-9)
}

func TestHarnessNoGoldenQueries(t *testing.T) {
	_, err := New(newFakeRunStore(), &fakeTarget{}, nil).Run(context.Background(), "v1", "", nil)
	assert.Error(t, err)
}

func TestHarnessCategoryFilter(t *testing.T) {
	st := newFakeRunStore(
		&store.GoldenQuery{ID: "g1", Query: "a", Category: store.CategoryFactual},
		&store.GoldenQuery{ID: "g2", Query: "b", Category: store.CategorySummary},
	)
	target := &fakeTarget{outcomes: map[string]*Outcome{
		"b": {Answer: "zusammenfassung", LatencyMs: 10},
	}}

	run, err := New(st, target, nil).Run(context.Background(), "v1", store.CategorySummary, nil)
	require.NoError(t, err)
	require.Len(t, st.results, 1)
	assert.Equal(t, "g2", st.results[0].GoldenID)
	assert.Equal(t, store.RunCompleted, run.Status)
}

func TestHarnessStart(t *testing.T) {
	st := newFakeRunStore(
		&store.GoldenQuery{ID: "g1", Query: "ok", Category: store.CategoryFactual},
	)
	target := &fakeTarget{outcomes: map[string]*Outcome{
		"ok": {Answer: "Antwort", Hits: []vector.SearchHit{hit("c1", "d1")}, LatencyMs: 10},
	}}

	id, err := New(st, target, nil).Start(context.Background(), "v1", "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return st.runStatus(id) == store.RunCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHarnessStartNoGoldenQueries(t *testing.T) {
	_, err := New(newFakeRunStore(), &fakeTarget{}, nil).Start(context.Background(), "v1", "", nil)
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	st := newFakeRunStore()
	st.runs["a"] = &store.EvaluationRun{ID: "a", AvgPrecision5: 0.6, AvgRecall20: 0.9, AvgMRR: 0.8, AvgGroundedness: 0.85, AvgLatencyMs: 900}
	st.runs["b"] = &store.EvaluationRun{ID: "b", AvgPrecision5: 0.5, AvgRecall20: 0.95, AvgMRR: 0.7, AvgGroundedness: 0.8, AvgLatencyMs: 1200}

	cmp, err := New(st, &fakeTarget{}, nil).Compare(context.Background(), "a", "b")
	require.NoError(t, err)

	// Quality deltas are B minus A; latency is A minus B.
	assert.InDelta(t, -0.1, cmp.DeltaPrecision5, 1e-9)
	assert.InDelta(t, 0.05, cmp.DeltaRecall20, 1e-9)
	assert.InDelta(t, -0.1, cmp.DeltaMRR, 1e-9)
	assert.InDelta(t, -0.05, cmp.DeltaGroundedness, 1e-9)
	assert.InDelta(t, -300.0, cmp.DeltaLatencyMs, 1e-9)

	_, err = New(st, &fakeTarget{}, nil).Compare(context.Background(), "a", "missing")
	assert.Error(t, err)
}

func TestCompareBetterSecondRunReportsPositiveQualityDelta(t *testing.T) {
	st := newFakeRunStore()
	st.runs["a"] = &store.EvaluationRun{ID: "a", AvgPrecision5: 0.2, AvgLatencyMs: 100}
	st.runs["b"] = &store.EvaluationRun{ID: "b", AvgPrecision5: 0.6, AvgLatencyMs: 150}

	cmp, err := New(st, &fakeTarget{}, nil).Compare(context.Background(), "a", "b")
	require.NoError(t, err)

	// B retrieves better but got slower: quality delta positive, latency
	// delta negative.
	assert.Greater(t, cmp.DeltaPrecision5, 0.0)
	assert.Less(t, cmp.DeltaLatencyMs, 0.0)
}

func TestParseGolden(t *testing.T) {
	data := []byte(`queries:
  - id: g1
    query: "Wie viele Urlaubstage?"
    relevantDocIds: [d1]
    keyFacts: ["30 Urlaubstage"]
  - query: "Vergleiche A und B"
    category: comparison
`)
	queries, err := ParseGolden(data)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, store.CategoryFactual, queries[0].Category)
	assert.Equal(t, []string{"30 Urlaubstage"}, queries[0].KeyFacts)
	assert.Equal(t, store.CategoryComparison, queries[1].Category)
}

func TestParseGoldenRejectsBadInput(t *testing.T) {
	_, err := ParseGolden([]byte("queries:\n  - category: factual\n"))
	assert.Error(t, err)

	_, err = ParseGolden([]byte("queries:\n  - query: q\n    category: bogus\n"))
	assert.Error(t, err)
}
