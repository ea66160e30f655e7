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

// Package vector is the vector-store adapter used for hybrid retrieval.
//
// Hybrid search blends a dense vector score with a lexical overlap score:
// alpha=1 is pure vector, alpha=0 pure lexical, intermediate values linearly
// blend the normalized scores. Permission filtering happens inside the store
// via an allowed-document-ids filter so no chunk from a forbidden document
// ever leaves the adapter.
package vector

import (
	"context"
	"sort"
	"strings"
)

// Hit tags.
const (
	TagPrimary   = "primary"
	TagExpansion = "expansion"
)

// SearchHit is one retrieved chunk.
type SearchHit struct {
	ChunkID      string  `json:"chunkId"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName,omitempty"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	Level        int     `json:"level"`
	ChunkIndex   int     `json:"chunkIndex"`
	Tag          string  `json:"tag,omitempty"`
}

// HybridParams parameterize one hybrid search.
type HybridParams struct {
	Query              string
	Embedding          []float32
	Limit              int
	Threshold          float64
	Alpha              float64
	AllowedDocumentIDs []string
	LevelFilter        []int
}

// ExpansionParams parameterize chunk fetches for document expansion.
type ExpansionParams struct {
	MaxPerDoc       int
	LevelFilter     []int
	ExcludeChunkIDs []string
}

// Chunk is one indexable unit with its embedding.
type Chunk struct {
	ChunkID       string
	DocumentID    string
	DocumentName  string
	Content       string
	Level         int
	ChunkIndex    int
	ParentChunkID string
	Embedding     []float32
}

// Store is the vector-store contract consumed by the retrieval engine.
type Store interface {
	// HybridSearch returns hits ordered by fused score, descending.
	// The threshold filters post-fusion.
	HybridSearch(ctx context.Context, p HybridParams) ([]SearchHit, error)

	// ChunksByDocumentIDs returns up to MaxPerDoc chunks per document,
	// excluding the ids given, for document expansion.
	ChunksByDocumentIDs(ctx context.Context, documentIDs []string, p ExpansionParams) ([]SearchHit, error)

	// UpsertChunks indexes chunks with their embeddings.
	UpsertChunks(ctx context.Context, chunks []Chunk) error

	// DeleteForDocument removes all chunks of one document.
	DeleteForDocument(ctx context.Context, documentID string) error

	// HealthCheck reports reachability.
	HealthCheck(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// lexicalScore is the fraction of query terms present in content. Terms are
// lowercase words longer than two characters.
func lexicalScore(query, content string) float64 {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return 0
	}

	lc := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lc, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// fuseScores blends normalized vector scores with lexical scores, sorts by
// the fused score descending, applies the threshold, and truncates to limit.
func fuseScores(hits []SearchHit, vectorScores []float64, query string, alpha, threshold float64, limit int) []SearchHit {
	norm := normalize(vectorScores)

	for i := range hits {
		lex := 0.0
		if alpha < 1 {
			lex = lexicalScore(query, hits[i].Content)
		}
		hits[i].Score = alpha*norm[i] + (1-alpha)*lex
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })

	out := hits[:0:0]
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}

// normalize min-max scales scores into [0,1]. A constant slice maps to 1.0
// so that a single candidate keeps full vector weight.
func normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}
