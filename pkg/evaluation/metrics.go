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

// Package evaluation measures retrieval and generation quality against the
// golden query set.
package evaluation

import (
	"regexp"
	"strings"
)

var (
	precisionKs = []int{1, 3, 5, 10, 20}
	recallKs    = []int{5, 20}
)

// RetrievalMetrics quantify ranking quality for one query.
type RetrievalMetrics struct {
	PrecisionAt map[int]float64 `json:"precisionAt"`
	RecallAt    map[int]float64 `json:"recallAt"`
	MRR         float64         `json:"mrr"`
}

// GenerationMetrics quantify answer quality for one query.
type GenerationMetrics struct {
	Groundedness          float64 `json:"groundedness"`
	AnswerRelevance       float64 `json:"answerRelevance"`
	KeyFactsCovered       float64 `json:"keyFactsCovered"`
	HallucinationDetected bool    `json:"hallucinationDetected"`
}

// QueryMetrics is the full per-query measurement.
type QueryMetrics struct {
	Retrieval  RetrievalMetrics  `json:"retrieval"`
	Generation GenerationMetrics `json:"generation"`
	LatencyMs  int64             `json:"latencyMs"`
}

// ScoreRetrieval computes precision, recall, and MRR over a ranked id list.
// Ids are chunk ids when the golden query labels chunks, document ids
// otherwise; the caller picks the granularity.
func ScoreRetrieval(retrieved, relevant []string) RetrievalMetrics {
	rel := make(map[string]bool, len(relevant))
	for _, id := range relevant {
		rel[id] = true
	}

	m := RetrievalMetrics{
		PrecisionAt: make(map[int]float64, len(precisionKs)),
		RecallAt:    make(map[int]float64, len(recallKs)),
	}

	for _, k := range precisionKs {
		m.PrecisionAt[k] = float64(hitsInTopK(retrieved, rel, k)) / float64(k)
	}
	for _, k := range recallKs {
		if len(rel) == 0 {
			// Nothing labeled relevant, recall is vacuously perfect.
			m.RecallAt[k] = 1.0
			continue
		}
		m.RecallAt[k] = float64(hitsInTopK(retrieved, rel, k)) / float64(len(rel))
	}

	for i, id := range retrieved {
		if rel[id] {
			m.MRR = 1.0 / float64(i+1)
			break
		}
	}
	return m
}

func hitsInTopK(retrieved []string, relevant map[string]bool, k int) int {
	if k > len(retrieved) {
		k = len(retrieved)
	}
	hits := 0
	seen := make(map[string]bool, k)
	for _, id := range retrieved[:k] {
		if relevant[id] && !seen[id] {
			seen[id] = true
			hits++
		}
	}
	return hits
}

var stopwords = map[string]bool{
	// German
	"der": true, "die": true, "das": true, "und": true, "oder": true,
	"ein": true, "eine": true, "ist": true, "sind": true, "von": true,
	"mit": true, "für": true, "auf": true, "wie": true, "was": true,
	"wer": true, "wann": true, "welche": true, "viele": true, "nicht": true,
	"werden": true,
	"haben":  true, "hat": true, "ich": true, "sie": true, "bei": true,
	// English
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"what": true, "who": true, "when": true, "how": true, "are": true,
	"does": true, "have": true, "this": true, "which": true, "not": true,
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// AnswerRelevance is the fraction of the query's non-stopword terms that
// reappear in the answer. A crude but model-free on-topic signal.
func AnswerRelevance(query, answer string) float64 {
	terms := contentWords(query)
	if len(terms) == 0 {
		return 1.0
	}

	la := strings.ToLower(answer)
	matched := 0
	for _, t := range terms {
		if strings.Contains(la, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// KeyFactsCovered is the fraction of expected key facts appearing
// case-insensitively in the answer. No labeled facts means full coverage.
func KeyFactsCovered(answer string, keyFacts []string) float64 {
	if len(keyFacts) == 0 {
		return 1.0
	}

	la := strings.ToLower(answer)
	covered := 0
	for _, f := range keyFacts {
		if strings.Contains(la, strings.ToLower(f)) {
			covered++
		}
	}
	return float64(covered) / float64(len(keyFacts))
}

// HallucinationDetected reports whether any forbidden phrase appears in the
// answer.
func HallucinationDetected(answer string, forbidden []string) bool {
	la := strings.ToLower(answer)
	for _, f := range forbidden {
		if f != "" && strings.Contains(la, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func contentWords(s string) []string {
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		if len([]rune(w)) < 3 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
