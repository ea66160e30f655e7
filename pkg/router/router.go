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

// Package router classifies queries and picks a retrieval strategy.
//
// Analyze is a pure function: deterministic, no I/O. The pattern sets cover
// German and English phrasings.
package router

import (
	"regexp"
	"strings"
)

// Query types.
const (
	TypeFactual     = "factual"
	TypeRelational  = "relational"
	TypeTemporal    = "temporal"
	TypeAggregative = "aggregative"
	TypeProcedural  = "procedural"
	TypeComparative = "comparative"
)

// Retrieval strategies.
const (
	StrategyVectorOnly      = "vector_only"
	StrategyHybrid          = "hybrid"
	StrategyHybridWithGraph = "hybrid_with_graph"
	StrategyTableFocused    = "table_focused"
	StrategyMultiIndex      = "multi_index"
)

// QueryAnalysis is the router's verdict for one query.
type QueryAnalysis struct {
	QueryType         string   `json:"queryType"`
	Entities          []string `json:"entities,omitempty"`
	IsMultiHop        bool     `json:"isMultiHop"`
	RequiresGraph     bool     `json:"requiresGraph"`
	RequiresTable     bool     `json:"requiresTable"`
	RecommendedLevels []int    `json:"recommendedLevels"`
	Strategy          string   `json:"strategy"`
	Confidence        float64  `json:"confidence"`
}

var typePatterns = map[string][]*regexp.Regexp{
	TypeFactual: compileAll(
		`(?i)\bwhat is\b`, `(?i)\bwho is\b`, `(?i)\bwas ist\b`, `(?i)\bwer ist\b`,
		`(?i)\bdefiniere\b`, `(?i)\bdefine\b`, `(?i)\bbedeutet\b`, `(?i)\bmeaning of\b`,
	),
	TypeRelational: compileAll(
		`(?i)\bwho leads\b`, `(?i)\breports to\b`, `(?i)\brelationship between\b`,
		`(?i)\bwer leitet\b`, `(?i)\bberichtet an\b`, `(?i)\bbeziehung zwischen\b`,
		`(?i)\bverantwortlich für\b`, `(?i)\bresponsible for\b`, `(?i)\bworks (with|for)\b`,
		`(?i)\barbeitet (mit|für|bei)\b`,
	),
	TypeTemporal: compileAll(
		`(?i)\bwhen\b`, `(?i)\bdeadline\b`, `(?i)\bdate\b`, `(?i)\bwann\b`,
		`(?i)\bfrist\b`, `(?i)\btermin\b`, `(?i)\bdatum\b`, `(?i)\bbis wann\b`,
	),
	TypeAggregative: compileAll(
		`(?i)\blist\b`, `(?i)\bhow many\b`, `(?i)\ball\b`, `(?i)\boverview\b`,
		`(?i)\bliste\b`, `(?i)\bwie viele\b`, `(?i)\balle\b`, `(?i)\büberblick\b`,
		`(?i)\bübersicht\b`, `(?i)\bgesamt\b`,
	),
	TypeProcedural: compileAll(
		`(?i)\bhow do i\b`, `(?i)\bsteps\b`, `(?i)\bprocess\b`, `(?i)\bwie kann ich\b`,
		`(?i)\bwie mache ich\b`, `(?i)\bschritte\b`, `(?i)\bablauf\b`, `(?i)\bvorgehen\b`,
		`(?i)\banleitung\b`,
	),
	TypeComparative: compileAll(
		`(?i)\bcompare\b`, `(?i)\bdifference\b`, `(?i)\bvs\.?\b`, `(?i)\bvergleiche?\b`,
		`(?i)\bunterschied\b`, `(?i)\bgegenüber\b`, `(?i)\bbesser\b`, `(?i)\bversus\b`,
	),
}

var multiHopPatterns = compileAll(
	`(?i)\band the latter\b`, `(?i)\bindirectly\b`, `(?i)\bconnected (with|to)\b`,
	`(?i)\bund (dessen|deren)\b`, `(?i)\bindirekt\b`, `(?i)\bverbunden mit\b`,
	`(?i)\büber welche\b`, `(?i)\bthrough which\b`,
)

var tablePatterns = compileAll(
	`(?i)\btable\b`, `(?i)\btabelle\b`, `(?i)\bspalte\b`, `(?i)\bcolumn\b`,
	`(?i)\bzeile\b`, `(?i)\brow\b`, `(?i)\bcell\b`, `(?i)\bzelle\b`,
)

var wholeDocumentPatterns = compileAll(
	`(?i)\bwhole document\b`, `(?i)\bentire document\b`, `(?i)\bgesamte dokument\b`,
	`(?i)\bganze dokument\b`, `(?i)\bsummary of the document\b`,
	`(?i)\bzusammenfassung des dokuments\b`,
)

var entityPatterns = []*regexp.Regexp{
	// Quoted substrings.
	regexp.MustCompile(`"([^"]{2,50})"`),
	regexp.MustCompile(`„([^“]{2,50})“`),
	// Company-suffix names.
	regexp.MustCompile(`\b([A-ZÄÖÜ][\wÄÖÜäöüß]*(?:\s+[A-ZÄÖÜ][\wÄÖÜäöüß]*)*\s+(?:GmbH|AG|KG|SE|Inc\.?|LLC|Ltd\.?|Corp\.?))`),
	// Projekt X.
	regexp.MustCompile(`\b(Projekt\s+[A-ZÄÖÜ][\wÄÖÜäöüß-]*)`),
	regexp.MustCompile(`\b(Project\s+[A-Z][\w-]*)`),
	// Capitalized noun phrases of two or more words.
	regexp.MustCompile(`\b([A-ZÄÖÜ][a-zäöüß]+(?:\s+[A-ZÄÖÜ][a-zäöüß]+)+)\b`),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Router analyzes queries. The graph flag gates graph-aware strategies.
type Router struct {
	graphEnabled bool
}

// New creates a router.
func New(graphEnabled bool) *Router {
	return &Router{graphEnabled: graphEnabled}
}

// Analyze classifies the query. Deterministic, no I/O.
func (r *Router) Analyze(query string) QueryAnalysis {
	matched := 0
	queryType := TypeFactual
	best := 0

	for _, qt := range []string{TypeFactual, TypeRelational, TypeTemporal, TypeAggregative, TypeProcedural, TypeComparative} {
		count := 0
		for _, p := range typePatterns[qt] {
			if p.MatchString(query) {
				count++
			}
		}
		matched += count
		if count > best {
			best = count
			queryType = qt
		}
	}

	entities := extractEntities(query)

	isMultiHop := false
	for _, p := range multiHopPatterns {
		if p.MatchString(query) {
			isMultiHop = true
			break
		}
	}
	// Two entities in a relational phrasing imply a hop between them even
	// when another type wins the vote.
	if !isMultiHop && len(entities) >= 2 && matchesAny(typePatterns[TypeRelational], query) {
		isMultiHop = true
	}

	requiresGraph := r.graphEnabled && (isMultiHop || queryType == TypeRelational || len(entities) >= 2)

	requiresTable := matchesAny(tablePatterns, query)
	levels := recommendedLevels(query, queryType, isMultiHop)

	strategy := StrategyHybrid
	switch {
	case requiresGraph:
		strategy = StrategyHybridWithGraph
	case requiresTable:
		strategy = StrategyTableFocused
	case queryType == TypeAggregative:
		strategy = StrategyMultiIndex
	}

	return QueryAnalysis{
		QueryType:         queryType,
		Entities:          entities,
		IsMultiHop:        isMultiHop,
		RequiresGraph:     requiresGraph,
		RequiresTable:     requiresTable,
		RecommendedLevels: levels,
		Strategy:          strategy,
		Confidence:        confidence(query, matched),
	}
}

func recommendedLevels(query, queryType string, isMultiHop bool) []int {
	if queryType == TypeAggregative || matchesAny(wholeDocumentPatterns, query) {
		// Level 0 covers the document as a whole.
		return []int{0, 1, 2}
	}
	if isMultiHop || queryType == TypeRelational || queryType == TypeComparative || queryType == TypeProcedural {
		return []int{1, 2}
	}
	return []int{1, 2}
}

// confidence starts at 0.7, grows with matched patterns and query length,
// shrinks for very short queries, and clamps to [0.3, 1.0].
func confidence(query string, matchedPatterns int) float64 {
	c := 0.7
	c += 0.05 * float64(matchedPatterns)

	if extra := len(query) - 50; extra > 0 {
		c += 0.05 * float64(extra/50)
	}
	if len(query) < 20 || len(strings.Fields(query)) < 4 {
		c -= 0.1
	}

	if c < 0.3 {
		c = 0.3
	}
	if c > 1.0 {
		c = 1.0
	}
	return c
}

func extractEntities(query string) []string {
	seen := map[string]bool{}
	var out []string

	for _, p := range entityPatterns {
		for _, m := range p.FindAllStringSubmatch(query, -1) {
			candidate := strings.TrimSpace(m[1])
			if candidate == "" || len(candidate) > 50 {
				continue
			}
			key := strings.ToLower(candidate)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, candidate)
		}
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
