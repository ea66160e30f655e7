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

package guardrails

import (
	"regexp"
	"strings"

	"github.com/kadirpekel/docrag/pkg/config"
)

// OutputResult is the verdict for one generated answer. FinalResponse is
// returned to the caller even when Valid is false; warnings surface
// separately.
type OutputResult struct {
	Valid         bool     `json:"valid"`
	Warnings      []string `json:"warnings,omitempty"`
	Groundedness  float64  `json:"groundedness"`
	HasCitations  bool     `json:"hasCitations"`
	FinalResponse string   `json:"finalResponse"`
}

var citationPattern = regexp.MustCompile(`\[Source [^\]]+\]`)

var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)password\s+is\s*:?\s*\S+`),
	regexp.MustCompile(`(?i)passwort\s+(ist|lautet)\s*:?\s*\S+`),
	regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`),
	// Long hex and base64 tokens.
	regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
	regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`),
}

var sentenceSplit = regexp.MustCompile(`[.!?]\s+|\n+`)

var wordPattern = regexp.MustCompile(`[\wäöüß]+`)

// Output validates generated answers: groundedness, citations, redaction,
// length cap.
type Output struct {
	groundednessThreshold float64
	requireCitations      bool
	maxResponseLength     int
}

// NewOutput creates the output guardrail.
func NewOutput(cfg config.GuardrailsConfig) *Output {
	return &Output{
		groundednessThreshold: cfg.GroundednessThreshold,
		requireCitations:      cfg.RequireCitations,
		maxResponseLength:     cfg.MaxResponseLength,
	}
}

// Check validates one answer against the context it was generated from.
// Idempotent: checking the FinalResponse again yields the same result.
func (g *Output) Check(answer, contextText string) OutputResult {
	res := OutputResult{Valid: true}

	res.Groundedness = Groundedness(answer, contextText)
	if res.Groundedness < g.groundednessThreshold {
		res.Valid = false
		res.Warnings = append(res.Warnings, "answer may not be grounded in the provided context")
	}

	res.HasCitations = citationPattern.MatchString(answer)
	if g.requireCitations && !res.HasCitations {
		res.Valid = false
		res.Warnings = append(res.Warnings, "answer is missing source citations")
	}

	final := Redact(answer)
	if final != answer {
		res.Warnings = append(res.Warnings, "sensitive data was redacted")
	}

	if g.maxResponseLength > 0 && len(final) > g.maxResponseLength {
		final = final[:g.maxResponseLength]
		res.Warnings = append(res.Warnings, "answer was truncated")
	}

	res.FinalResponse = final
	return res
}

// Groundedness scores how much of the answer is supported by the context.
//
// Sentences longer than 20 characters are scored; a sentence is grounded
// when at least half of its lowercase words longer than 4 characters appear
// in the lowercase context. With no scorable sentences the score is 1.0.
func Groundedness(answer, contextText string) float64 {
	lcContext := strings.ToLower(contextText)

	scored, grounded := 0, 0
	for _, sentence := range sentenceSplit.Split(answer, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= 20 {
			continue
		}

		var words []string
		for _, w := range wordPattern.FindAllString(strings.ToLower(sentence), -1) {
			if len(w) > 4 {
				words = append(words, w)
			}
		}
		if len(words) == 0 {
			continue
		}

		scored++
		found := 0
		for _, w := range words {
			if strings.Contains(lcContext, w) {
				found++
			}
		}
		if float64(found) >= 0.5*float64(len(words)) {
			grounded++
		}
	}

	if scored == 0 {
		return 1.0
	}
	return float64(grounded) / float64(scored)
}

// Redact replaces matches of the secret patterns with [REDACTED].
// Idempotent: the replacement matches none of the patterns.
func Redact(answer string) string {
	for _, p := range redactionPatterns {
		answer = p.ReplaceAllString(answer, "[REDACTED]")
	}
	return answer
}
