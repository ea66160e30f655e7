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
	"fmt"
	"strings"
)

// relationPhrases render edges as German sentences. The templater is
// deterministic so traversal summaries are reproducible and testable.
var relationPhrases = map[string]string{
	RelWorksFor:         "arbeitet für",
	RelManages:          "leitet",
	RelCreated:          "hat erstellt:",
	RelMentions:         "erwähnt",
	RelReferences:       "verweist auf",
	RelAbout:            "behandelt",
	RelPartOf:           "ist Teil von",
	RelReportsTo:        "berichtet an",
	RelCollaboratesWith: "arbeitet zusammen mit",
	RelApprovedBy:       "wurde genehmigt von",
}

var typeLabels = map[string]string{
	TypePerson:       "Person",
	TypeOrganization: "Organisation",
	TypeProject:      "Projekt",
	TypeProduct:      "Produkt",
	TypeDocument:     "Dokument",
	TypeTopic:        "Thema",
	TypeLocation:     "Ort",
	TypeDate:         "Datum",
	TypeRegulation:   "Regelwerk",
}

// Summarize renders a traversal result as natural-language lines, one per
// edge, preceded by an entity roll-call. Input order is preserved; callers
// sort before summarizing.
func Summarize(entities []*Entity, rels []*Relationship) string {
	if len(entities) == 0 {
		return ""
	}

	byID := make(map[string]*Entity, len(entities))
	names := make([]string, 0, len(entities))
	for _, ent := range entities {
		byID[ent.ID] = ent
		names = append(names, fmt.Sprintf("%s (%s)", DisplayName(ent), typeLabel(ent.Type)))
	}

	var b strings.Builder
	b.WriteString("Bekannte Entitäten: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".")

	for _, rel := range rels {
		src, ok1 := byID[rel.SourceID]
		dst, ok2 := byID[rel.TargetID]
		if !ok1 || !ok2 {
			continue
		}
		phrase, ok := relationPhrases[rel.Type]
		if !ok {
			phrase = "steht in Beziehung zu"
		}
		b.WriteString(fmt.Sprintf("\n%s %s %s.", DisplayName(src), phrase, DisplayName(dst)))
	}
	return b.String()
}

// DisplayName prefers the original-cased alias over the lowercased
// canonical form.
func DisplayName(ent *Entity) string {
	if len(ent.Aliases) > 0 && ent.Aliases[0] != "" {
		return ent.Aliases[0]
	}
	return ent.CanonicalForm
}

func typeLabel(t string) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return t
}
