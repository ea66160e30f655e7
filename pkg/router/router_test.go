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

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeQueryTypes(t *testing.T) {
	r := New(true)

	tests := []struct {
		query    string
		wantType string
	}{
		{"What is the onboarding policy for new employees?", TypeFactual},
		{"Was ist die Urlaubsregelung in diesem Unternehmen?", TypeFactual},
		{"Who leads the platform team and reports to the CTO?", TypeRelational},
		{"Wer leitet die Abteilung und berichtet an wen?", TypeRelational},
		{"When is the deadline for the budget submission?", TypeTemporal},
		{"Wann ist die Frist für den Antrag?", TypeTemporal},
		{"List all projects with an overview of their status", TypeAggregative},
		{"Wie viele Mitarbeiter arbeiten in der Zentrale insgesamt?", TypeAggregative},
		{"How do I submit my expenses, what are the steps in the process?", TypeProcedural},
		{"Wie kann ich den Ablauf für Bestellungen starten?", TypeProcedural},
		{"Compare the old contract with the new one, what is the difference?", TypeComparative},
		{"Vergleiche die beiden Angebote, was ist der Unterschied?", TypeComparative},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := r.Analyze(tt.query)
			assert.Equal(t, tt.wantType, got.QueryType)
		})
	}
}

func TestAnalyzeDefaultsToFactual(t *testing.T) {
	got := New(true).Analyze("qwertz asdf")
	assert.Equal(t, TypeFactual, got.QueryType)
}

func TestAnalyzeEntities(t *testing.T) {
	got := New(true).Analyze(`Which role does "Anna Schmidt" have at Acme Solutions GmbH in Projekt Phoenix?`)

	assert.Contains(t, got.Entities, "Anna Schmidt")
	assert.Contains(t, got.Entities, "Acme Solutions GmbH")
	assert.Contains(t, got.Entities, "Projekt Phoenix")
}

func TestAnalyzeEntitiesDeduplicated(t *testing.T) {
	got := New(true).Analyze(`"Anna Schmidt" met Anna Schmidt`)

	count := 0
	for _, e := range got.Entities {
		if e == "Anna Schmidt" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAnalyzeMultiHopAndGraph(t *testing.T) {
	r := New(true)

	got := r.Analyze("Which suppliers are indirectly connected with Acme Solutions GmbH?")
	assert.True(t, got.IsMultiHop)
	assert.True(t, got.RequiresGraph)
	assert.Equal(t, StrategyHybridWithGraph, got.Strategy)

	// Relational phrasing with two entities is multi-hop too.
	got = r.Analyze(`What is the relationship between "Anna Schmidt" and "Peter Weber"?`)
	assert.True(t, got.IsMultiHop)
	assert.True(t, got.RequiresGraph)
}

func TestAnalyzeGraphDisabled(t *testing.T) {
	got := New(false).Analyze("Which suppliers are indirectly connected with Acme Solutions GmbH?")
	assert.True(t, got.IsMultiHop)
	assert.False(t, got.RequiresGraph)
	assert.NotEqual(t, StrategyHybridWithGraph, got.Strategy)
}

func TestAnalyzeStrategies(t *testing.T) {
	r := New(true)

	assert.Equal(t, StrategyTableFocused, r.Analyze("Which value is in the table under column revenue?").Strategy)
	assert.Equal(t, StrategyMultiIndex, r.Analyze("Give me an overview and list every policy we have").Strategy)
	assert.Equal(t, StrategyHybrid, r.Analyze("What is the termination notice period?").Strategy)
}

func TestAnalyzeLevels(t *testing.T) {
	r := New(true)

	assert.Equal(t, []int{0, 1, 2}, r.Analyze("List all sections, give me an overview").RecommendedLevels)
	assert.Equal(t, []int{1, 2}, r.Analyze("What is the notice period for my contract?").RecommendedLevels)
}

func TestAnalyzeConfidence(t *testing.T) {
	r := New(true)

	short := r.Analyze("why?")
	long := r.Analyze("What is the complete approval process for purchase orders above ten thousand euros in the procurement department?")

	assert.GreaterOrEqual(t, short.Confidence, 0.3)
	assert.LessOrEqual(t, long.Confidence, 1.0)
	assert.Greater(t, long.Confidence, short.Confidence)

	// Deterministic: same input, same verdict.
	assert.Equal(t, long, r.Analyze("What is the complete approval process for purchase orders above ten thousand euros in the procurement department?"))
}
