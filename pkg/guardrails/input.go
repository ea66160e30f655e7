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

// Package guardrails validates queries before retrieval and answers after
// generation.
package guardrails

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/ratelimit"
)

// Input error tokens. Machine-readable so clients and tests can branch on
// them without parsing prose.
const (
	ErrQueryTooShort   = "query_too_short"
	ErrQueryTooLong    = "query_too_long"
	ErrRateLimited     = "rate_limited"
	ErrPromptInjection = "prompt_injection"
)

// InputResult is the verdict for one incoming query.
type InputResult struct {
	Valid          bool     `json:"valid"`
	SanitizedQuery string   `json:"sanitizedQuery"`
	Warnings       []string `json:"warnings,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	RateLimited    bool     `json:"rateLimited"`
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)ignoriere\s+(alle\s+)?vorherigen\s+anweisungen`),
	regexp.MustCompile(`(?i)you\s+are\s+now`),
	regexp.MustCompile(`(?i)du\s+bist\s+(jetzt|ab\s+sofort)`),
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)system\s*prompt\s*:`),
	regexp.MustCompile(`(?i)disregard\s+the\s+above`),
	regexp.MustCompile(`(?i)act\s+as\s+an?\s+unrestricted`),
}

// Input validates incoming queries: length bounds, rate limit, injection
// detection, sanitization.
type Input struct {
	minLen  int
	maxLen  int
	limiter ratelimit.Limiter
}

// NewInput creates the input guardrail.
func NewInput(cfg config.GuardrailsConfig, limiter ratelimit.Limiter) *Input {
	return &Input{
		minLen:  cfg.MinQueryLength,
		maxLen:  cfg.MaxQueryLength,
		limiter: limiter,
	}
}

// Validate checks one query for userID. Downstream components must only see
// the sanitized query.
func (g *Input) Validate(ctx context.Context, userID, query string) (InputResult, error) {
	res := InputResult{SanitizedQuery: Sanitize(query)}

	trimmed := strings.TrimSpace(query)
	if len(trimmed) < g.minLen {
		res.Errors = append(res.Errors, ErrQueryTooShort)
		return res, nil
	}
	if len(trimmed) > g.maxLen {
		res.Errors = append(res.Errors, ErrQueryTooLong)
		return res, nil
	}

	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, userID)
		if err != nil {
			return res, err
		}
		if !allowed {
			res.RateLimited = true
			res.Errors = append(res.Errors, ErrRateLimited)
			return res, nil
		}
	}

	for _, p := range injectionPatterns {
		if p.MatchString(query) {
			res.Errors = append(res.Errors, ErrPromptInjection)
			return res, nil
		}
	}

	res.Valid = true
	return res, nil
}

// Sanitize strips angle brackets and control characters. Idempotent, and
// never longer than its input.
func Sanitize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	for _, r := range query {
		switch {
		case r == '<' || r == '>':
			// dropped
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
