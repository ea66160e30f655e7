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

package compose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/llms"
	"github.com/kadirpekel/docrag/pkg/vector"
)

func sampleContext() Context {
	return Context{
		Hits: []vector.SearchHit{
			{ChunkID: "c1", DocumentID: "d1", DocumentName: "handbuch.pdf", Content: "30 Urlaubstage pro Jahr."},
			{ChunkID: "c2", DocumentID: "d2", Content: "Resturlaub verfällt im März."},
		},
		GraphContext: "Anna Schmidt arbeitet für Acme GmbH.",
	}
}

func TestContextTextNumbering(t *testing.T) {
	text := ContextText(sampleContext())

	assert.Contains(t, text, "[Source 1: handbuch.pdf] 30 Urlaubstage pro Jahr.")
	// Falls back to the document id when no display name exists.
	assert.Contains(t, text, "[Source 2: d2] Resturlaub verfällt im März.")
	assert.Contains(t, text, "Wissensgraph:\nAnna Schmidt arbeitet für Acme GmbH.")
	assert.Less(t, strings.Index(text, "[Source 1"), strings.Index(text, "[Source 2"))
	assert.Less(t, strings.Index(text, "[Source 2"), strings.Index(text, "Wissensgraph:"))
}

func TestContextTextEmpty(t *testing.T) {
	assert.Empty(t, ContextText(Context{}))
	assert.Equal(t, "Wissensgraph:\nfoo", ContextText(Context{GraphContext: "foo"}))
}

func TestMessagesShape(t *testing.T) {
	c := New(nil, 0)
	history := []llms.Message{
		{Role: llms.RoleUser, Content: "Hallo"},
		{Role: llms.RoleAssistant, Content: "Hallo! Wie kann ich helfen?"},
	}

	msgs := c.Messages("Wie viele Urlaubstage habe ich?", history, sampleContext())
	require.Len(t, msgs, 4)

	assert.Equal(t, llms.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Kontext:")
	assert.Contains(t, msgs[0].Content, "[Source 1: handbuch.pdf]")
	assert.Contains(t, msgs[0].Content, "ausschließlich anhand des bereitgestellten Kontexts")

	assert.Equal(t, history[0], msgs[1])
	assert.Equal(t, history[1], msgs[2])
	assert.Equal(t, llms.Message{Role: llms.RoleUser, Content: "Wie viele Urlaubstage habe ich?"}, msgs[3])
}

func TestMessagesWithoutContext(t *testing.T) {
	msgs := New(nil, 0).Messages("Frage?", nil, Context{})
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "Kontext: (keine Treffer)")
}

func TestHistoryTrimmedToBudget(t *testing.T) {
	c := New(nil, 30)

	long := strings.Repeat("wort ", 200)
	history := []llms.Message{
		{Role: llms.RoleUser, Content: long},
		{Role: llms.RoleAssistant, Content: long},
		{Role: llms.RoleUser, Content: "kurz"},
	}

	msgs := c.Messages("Frage?", history, Context{})
	// System, the one short turn that fits, and the query.
	require.Len(t, msgs, 3)
	assert.Equal(t, "kurz", msgs[1].Content)
}
