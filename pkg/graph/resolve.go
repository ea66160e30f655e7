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

package graph

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/kadirpekel/docrag/pkg/embedders"
)

const (
	aliasSimilarity        = 0.95
	abbreviationSimilarity = 0.85
	embeddingCutoff        = 0.85
	fuzzyCutoff            = 0.8
)

// Resolver merges entity mentions that refer to the same real-world thing.
// Candidates are blocked by (type, first three canonical characters) so only
// plausible pairs are compared. The embedder is optional; without one the
// embedding signal is skipped.
type Resolver struct {
	embedder  embedders.Embedder
	threshold float64
}

// NewResolver creates a resolver. embedder may be nil.
func NewResolver(threshold float64, embedder embedders.Embedder) *Resolver {
	if threshold == 0 {
		threshold = 0.85
	}
	return &Resolver{embedder: embedder, threshold: threshold}
}

// Resolve clusters entities and merges each cluster into one entity. The
// returned remap points every input id at its surviving entity id, for
// relationship rebinding.
func (r *Resolver) Resolve(ctx context.Context, entities []*Entity) ([]*Entity, map[string]string, error) {
	blocks := make(map[string][]*Entity)
	for _, ent := range entities {
		blocks[blockKey(ent)] = append(blocks[blockKey(ent)], ent)
	}

	remap := make(map[string]string, len(entities))
	var out []*Entity

	// Deterministic block order.
	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		block := blocks[key]
		merged, err := r.resolveBlock(ctx, block, remap)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, merged...)
	}
	return out, remap, nil
}

func (r *Resolver) resolveBlock(ctx context.Context, block []*Entity, remap map[string]string) ([]*Entity, error) {
	if len(block) == 1 {
		remap[block[0].ID] = block[0].ID
		return block, nil
	}

	sort.Slice(block, func(i, j int) bool { return block[i].CanonicalForm < block[j].CanonicalForm })

	vectors, err := r.embedBlock(ctx, block)
	if err != nil {
		return nil, err
	}

	parent := make([]int, len(block))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < len(block); i++ {
		for j := i + 1; j < len(block); j++ {
			var vi, vj []float32
			if vectors != nil {
				vi, vj = vectors[i], vectors[j]
			}
			if Similarity(block[i], block[j], vi, vj) >= r.threshold {
				parent[find(i)] = find(j)
			}
		}
	}

	clusters := make(map[int][]*Entity)
	for i, ent := range block {
		root := find(i)
		clusters[root] = append(clusters[root], ent)
	}

	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	out := make([]*Entity, 0, len(clusters))
	for _, root := range roots {
		merged := mergeCluster(clusters[root])
		for _, member := range clusters[root] {
			remap[member.ID] = merged.ID
		}
		out = append(out, merged)
	}
	return out, nil
}

func (r *Resolver) embedBlock(ctx context.Context, block []*Entity) ([][]float32, error) {
	if r.embedder == nil {
		return nil, nil
	}
	texts := make([]string, len(block))
	for i, ent := range block {
		texts[i] = ent.CanonicalForm
	}
	return r.embedder.EmbedBatch(ctx, texts)
}

// Similarity scores two entities of the same type as the strongest of the
// available signals: exact canonical match, alias overlap, embedding cosine,
// normalized edit distance, and abbreviation expansion. Signals below their
// cutoff contribute zero.
func Similarity(a, b *Entity, va, vb []float32) float64 {
	if a.CanonicalForm == b.CanonicalForm {
		return 1.0
	}

	best := 0.0
	if aliasOverlap(a, b) {
		best = aliasSimilarity
	}

	if len(va) > 0 && len(vb) > 0 {
		if cos := cosine(va, vb); cos >= embeddingCutoff && cos > best {
			best = cos
		}
	}

	if fuzzy := fuzzySimilarity(a.CanonicalForm, b.CanonicalForm); fuzzy >= fuzzyCutoff && fuzzy > best {
		best = fuzzy
	}

	if best < abbreviationSimilarity && isAbbreviation(a.CanonicalForm, b.CanonicalForm) {
		best = abbreviationSimilarity
	}
	return best
}

func aliasOverlap(a, b *Entity) bool {
	set := make(map[string]bool, len(a.Aliases)+1)
	set[a.CanonicalForm] = true
	for _, al := range a.Aliases {
		set[Normalize(al)] = true
	}
	if set[b.CanonicalForm] {
		return true
	}
	for _, al := range b.Aliases {
		if set[Normalize(al)] {
			return true
		}
	}
	return false
}

func fuzzySimilarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// isAbbreviation reports whether one side is the initialism of the other's
// words, e.g. "ibm" and "international business machines".
func isAbbreviation(a, b string) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	words := strings.Fields(long)
	if len(words) < 2 || len([]rune(short)) != len(words) {
		return false
	}
	for i, w := range words {
		if []rune(short)[i] != []rune(w)[0] {
			return false
		}
	}
	return true
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// mergeCluster folds a cluster into one entity: the highest-confidence
// member donates the canonical form, everything else becomes aliases and
// occurrences. Merged-away ids are recorded in metadata.
func mergeCluster(cluster []*Entity) *Entity {
	if len(cluster) == 1 {
		return cluster[0]
	}

	head := cluster[0]
	for _, ent := range cluster[1:] {
		if ent.Confidence > head.Confidence {
			head = ent
		}
	}

	merged := &Entity{
		ID:            head.ID,
		Type:          head.Type,
		CanonicalForm: head.CanonicalForm,
		Confidence:    head.Confidence,
		Metadata:      map[string]string{},
	}
	for k, v := range head.Metadata {
		merged.Metadata[k] = v
	}

	var mergedFrom []string
	for _, ent := range cluster {
		// Original-cased aliases first so they win the case-insensitive union.
		merged.Aliases = unionStrings(merged.Aliases, append(append([]string{}, ent.Aliases...), ent.CanonicalForm))
		merged.Occurrences = append(merged.Occurrences, ent.Occurrences...)
		if ent.ID != merged.ID {
			mergedFrom = append(mergedFrom, ent.ID)
		}
	}
	if len(mergedFrom) > 0 {
		sort.Strings(mergedFrom)
		merged.Metadata["merged_from"] = strings.Join(mergedFrom, ",")
	}
	return merged
}

// blockKey buckets entities so only plausible duplicates are compared.
func blockKey(ent *Entity) string {
	prefix := ent.CanonicalForm
	if r := []rune(prefix); len(r) > 3 {
		prefix = string(r[:3])
	}
	return ent.Type + "|" + prefix
}
