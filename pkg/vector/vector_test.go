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

package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexicalScore(t *testing.T) {
	assert.Equal(t, 1.0, lexicalScore("budget report", "the annual Budget Report for 2025"))
	assert.Equal(t, 0.5, lexicalScore("budget forecast", "the annual budget for 2025"))
	assert.Equal(t, 0.0, lexicalScore("unrelated terms", "nothing matches here at all"))
	// Short words are not scored as terms.
	assert.Equal(t, 0.0, lexicalScore("a an of", "a an of"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, normalize([]float64{2, 4, 6}))
	// Constant scores keep full weight.
	assert.Equal(t, []float64{1, 1}, normalize([]float64{3, 3}))
	assert.Empty(t, normalize(nil))
}

func TestFuseScoresPureVector(t *testing.T) {
	hits := []SearchHit{
		{ChunkID: "a", Content: "alpha"},
		{ChunkID: "b", Content: "beta"},
		{ChunkID: "c", Content: "gamma"},
	}

	out := fuseScores(hits, []float64{0.2, 0.9, 0.5}, "query", 1.0, 0, 10)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "c", out[1].ChunkID)
	assert.Equal(t, "a", out[2].ChunkID)
}

func TestFuseScoresBlend(t *testing.T) {
	hits := []SearchHit{
		{ChunkID: "vec", Content: "nothing relevant"},
		{ChunkID: "lex", Content: "quarterly revenue numbers"},
	}

	// Vector favors "vec", lexical favors "lex"; alpha 0.3 leans lexical.
	out := fuseScores(hits, []float64{0.9, 0.1}, "quarterly revenue", 0.3, 0, 10)
	assert.Equal(t, "lex", out[0].ChunkID)
}

func TestFuseScoresThresholdAndLimit(t *testing.T) {
	hits := []SearchHit{
		{ChunkID: "a"},
		{ChunkID: "b"},
		{ChunkID: "c"},
	}

	out := fuseScores(hits, []float64{1, 0.6, 0.1}, "", 1.0, 0.5, 2)
	assert.Len(t, out, 2)
	for _, h := range out {
		assert.GreaterOrEqual(t, h.Score, 0.5)
	}
}
