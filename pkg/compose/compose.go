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

// Package compose assembles the generation prompt from retrieved context.
//
// Retrieved chunks become numbered source blocks so the model can cite
// "[Source n: name]" inline; the output guardrail later checks for exactly
// this marker shape.
package compose

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/docrag/pkg/llms"
	"github.com/kadirpekel/docrag/pkg/utils"
	"github.com/kadirpekel/docrag/pkg/vector"
)

// systemPrompt instructs the model to answer strictly from the provided
// context. German, matching the corpus language.
const systemPrompt = `Du bist ein Assistent für Fragen zu internen Dokumenten.

Regeln:
- Beantworte die Frage ausschließlich anhand des bereitgestellten Kontexts.
- Zitiere die Quellen im Text in der Form [Source n: Name], z. B. [Source 1: handbuch.pdf].
- Wenn der Kontext nicht ausreicht, sage das klar und erfinde nichts.
- Falls Informationen aus dem Wissensgraphen vorhanden sind, beziehe sie in die Antwort ein.
- Antworte in der Sprache der Frage.`

// Composer builds message lists for generation.
type Composer struct {
	counter       *utils.TokenCounter
	historyBudget int
}

// New creates a composer. The token counter trims conversation history to
// the configured budget.
func New(counter *utils.TokenCounter, historyBudget int) *Composer {
	return &Composer{counter: counter, historyBudget: historyBudget}
}

// Context is the retrieved material for one generation.
type Context struct {
	Hits         []vector.SearchHit
	GraphContext string
}

// ContextText renders the numbered source blocks plus the graph section.
// This exact text is what groundedness is later scored against.
func ContextText(c Context) string {
	var b strings.Builder
	for i, h := range c.Hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		name := h.DocumentName
		if name == "" {
			name = h.DocumentID
		}
		fmt.Fprintf(&b, "[Source %d: %s] %s", i+1, name, h.Content)
	}

	if c.GraphContext != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Wissensgraph:\n")
		b.WriteString(c.GraphContext)
	}
	return b.String()
}

// Messages assembles the full message list: system prompt with context,
// trimmed history, then the user query.
func (c *Composer) Messages(query string, history []llms.Message, retrieved Context) []llms.Message {
	contextText := ContextText(retrieved)

	system := systemPrompt
	if contextText != "" {
		system += "\n\nKontext:\n" + contextText
	} else {
		system += "\n\nKontext: (keine Treffer)"
	}

	out := []llms.Message{{Role: llms.RoleSystem, Content: system}}
	out = append(out, c.trimHistory(history)...)
	out = append(out, llms.Message{Role: llms.RoleUser, Content: query})
	return out
}

// trimHistory keeps the most recent turns that fit the token budget.
func (c *Composer) trimHistory(history []llms.Message) []llms.Message {
	if len(history) == 0 || c.historyBudget <= 0 {
		return history
	}

	msgs := make([]utils.Message, len(history))
	for i, m := range history {
		msgs[i] = utils.Message{Role: m.Role, Content: m.Content}
	}

	var fitted []utils.Message
	if c.counter != nil {
		fitted = c.counter.FitWithinLimit(msgs, c.historyBudget)
	} else {
		fitted = estimateFit(msgs, c.historyBudget)
	}

	out := make([]llms.Message, len(fitted))
	for i, m := range fitted {
		out[i] = llms.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// estimateFit is the counter-less fallback using the rough 4-chars-per-token
// estimate.
func estimateFit(msgs []utils.Message, budget int) []utils.Message {
	total := 0
	cut := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		total += utils.EstimateTokens(msgs[i].Content) + 4
		if total > budget {
			break
		}
		cut = i
	}
	return msgs[cut:]
}

// InsufficientContextAnswer is the canned answer when nothing retrievable
// supports the query.
const InsufficientContextAnswer = "Dazu liegen mir keine Informationen in den für Sie zugänglichen Dokumenten vor."
