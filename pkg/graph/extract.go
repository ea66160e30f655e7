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
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/llms"
	"github.com/kadirpekel/docrag/pkg/logger"
)

// typedPattern couples a regex with the entity type it yields and the
// confidence of that signal.
type typedPattern struct {
	re         *regexp.Regexp
	entityType string
	confidence float64
}

// Pattern sets cover German and English document conventions. High-precision
// shapes (company suffixes, dates, regulation ids) score high; bare
// capitalized name pairs are weaker.
var extractionPatterns = []typedPattern{
	// Organizations by legal-form suffix.
	{regexp.MustCompile(`\b([A-ZÄÖÜ][\wÄÖÜäöüß&.-]*(?:\s+[A-ZÄÖÜ][\wÄÖÜäöüß&.-]*)*\s+(?:GmbH|AG|KG|SE|e\.V\.|Inc\.?|LLC|Ltd\.?|Corp\.?))`), TypeOrganization, 0.9},

	// Persons with a title or salutation.
	{regexp.MustCompile(`\b(?:Herr|Frau|Dr\.|Prof\.|Mr\.|Mrs\.|Ms\.)\s+([A-ZÄÖÜ][a-zäöüß]+(?:\s+[A-ZÄÖÜ][a-zäöüß]+)?)`), TypePerson, 0.85},

	// Named projects.
	{regexp.MustCompile(`\b((?:Projekt|Project)\s+[A-ZÄÖÜ][\wÄÖÜäöüß-]+)`), TypeProject, 0.9},

	// Named products with a version.
	{regexp.MustCompile(`\b([A-ZÄÖÜ][\wÄÖÜäöüß]+\s+v?\d+(?:\.\d+)+)`), TypeProduct, 0.75},

	// File-name document references.
	{regexp.MustCompile(`\b([\w][\w .-]{1,60}\.(?:pdf|docx?|xlsx?|pptx?|md|txt))\b`), TypeDocument, 0.85},

	// Locations introduced by a site or address marker.
	{regexp.MustCompile(`\b(?:Standort|Niederlassung|located in|headquartered in|mit Sitz in)\s+([A-ZÄÖÜ][a-zäöüß]+(?:\s+[A-ZÄÖÜ][a-zäöüß]+)?)`), TypeLocation, 0.8},

	// Dates, numeric and spelled-out.
	{regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{4})\b`), TypeDate, 0.95},
	{regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), TypeDate, 0.95},
	{regexp.MustCompile(`\b(\d{1,2}\.?\s+(?:Januar|Februar|März|April|Mai|Juni|Juli|August|September|Oktober|November|Dezember)\s+\d{4})\b`), TypeDate, 0.9},
	{regexp.MustCompile(`\b((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`), TypeDate, 0.9},

	// Regulations and standards.
	{regexp.MustCompile(`\b(DSGVO|GDPR|HIPAA|SOX|CCPA)\b`), TypeRegulation, 0.95},
	{regexp.MustCompile(`\b((?:ISO|IEC|DIN|EN)[ /-]?\d{3,5}(?:-\d+)?)\b`), TypeRegulation, 0.9},
	{regexp.MustCompile(`(§\s?\d+[a-z]?(?:\s+[A-ZÄÖÜ][a-zA-ZÄÖÜäöüß]*)?)`), TypeRegulation, 0.85},

	// Bare capitalized first-last pairs. Weak signal, kept below the default
	// confidence cutoff unless the cutoff is lowered.
	{regexp.MustCompile(`\b([A-ZÄÖÜ][a-zäöüß]{2,}\s+[A-ZÄÖÜ][a-zäöüß]{2,})\b`), TypePerson, 0.55},
}

// coOccurrence maps an ordered type pair found in the same chunk to the
// relationship inferred between them. Direction follows the pair order.
var coOccurrence = map[[2]string]string{
	{TypePerson, TypeOrganization}:   RelWorksFor,
	{TypePerson, TypeProject}:        RelCollaboratesWith,
	{TypePerson, TypePerson}:         RelCollaboratesWith,
	{TypeProject, TypeOrganization}:  RelPartOf,
	{TypeProduct, TypeOrganization}:  RelPartOf,
	{TypeDocument, TypeTopic}:        RelAbout,
	{TypeDocument, TypePerson}:       RelMentions,
	{TypeDocument, TypeRegulation}:   RelReferences,
	{TypeProject, TypeRegulation}:    RelReferences,
	{TypeOrganization, TypeLocation}: RelPartOf,
}

const coOccurrenceConfidence = 0.6

const entityExtractionPrompt = `Extrahiere Entitäten und Beziehungen aus dem folgenden Text.

Erlaubte Entitätstypen: PERSON, ORGANIZATION, PROJECT, PRODUCT, DOCUMENT, TOPIC, LOCATION, DATE, REGULATION.
Erlaubte Beziehungstypen: WORKS_FOR, MANAGES, CREATED, MENTIONS, REFERENCES, ABOUT, PART_OF, REPORTS_TO, COLLABORATES_WITH, APPROVED_BY.

Antworte ausschließlich mit validem JSON in exakt dieser Form, ohne Markdown:
{
  "entities": [{"type": "PERSON", "text": "...", "confidence": 0.9}],
  "relationships": [{"source": "...", "target": "...", "type": "WORKS_FOR", "evidence": "...", "confidence": 0.8}]
}

"source" und "target" müssen wörtlich in "entities" vorkommen. Erfinde nichts, was nicht im Text steht.

Text:
%s`

type llmExtraction struct {
	Entities []struct {
		Type       string  `json:"type"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	Relationships []struct {
		Source     string  `json:"source"`
		Target     string  `json:"target"`
		Type       string  `json:"type"`
		Evidence   string  `json:"evidence"`
		Confidence float64 `json:"confidence"`
	} `json:"relationships"`
}

// Extractor turns chunk text into entities and relationships. Pattern
// extraction always runs; LLM extraction is layered on top when enabled and
// an LLM is wired.
type Extractor struct {
	llm           llms.LLM
	useLLM        bool
	minConfidence float64
	logger        *slog.Logger
}

// NewExtractor creates an extractor. llm may be nil when LLM extraction is
// disabled.
func NewExtractor(cfg config.GraphConfig, llm llms.LLM) *Extractor {
	return &Extractor{
		llm:           llm,
		useLLM:        cfg.UseLLMExtraction && llm != nil,
		minConfidence: cfg.MinConfidence,
		logger:        logger.Get().With("component", "graph.extractor"),
	}
}

// ExtractChunk extracts from one chunk. Entities carry a single occurrence
// pointing at the chunk; relationships reference the returned entity ids.
// LLM failures degrade to pattern-only extraction.
func (e *Extractor) ExtractChunk(ctx context.Context, documentID, chunkID, text string) ([]*Entity, []*Relationship, error) {
	entities := e.patternEntities(documentID, chunkID, text)

	var rels []*Relationship
	if e.useLLM {
		llmEntities, llmRels, err := e.llmExtract(ctx, documentID, chunkID, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			e.logger.Warn("llm extraction failed, keeping pattern results",
				"chunk_id", chunkID, "error", err)
		} else {
			entities = mergeMentions(entities, llmEntities)
			rels = llmRels
		}
	}

	entities, remap := dedupeEntities(entities)
	rels = append(rels, e.coOccurrenceRels(entities, documentID)...)
	rels = dedupeRelationships(rebindRelationships(rels, remap))

	return entities, rels, nil
}

func (e *Extractor) patternEntities(documentID, chunkID, text string) []*Entity {
	var out []*Entity
	for _, tp := range extractionPatterns {
		if tp.confidence < e.minConfidence {
			continue
		}
		for _, m := range tp.re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			mention := strings.TrimSpace(text[m[2]:m[3]])
			if mention == "" || len(mention) > 120 {
				continue
			}
			out = append(out, &Entity{
				ID:            uuid.NewString(),
				Type:          tp.entityType,
				CanonicalForm: Normalize(mention),
				Aliases:       []string{mention},
				Confidence:    tp.confidence,
				Occurrences: []Occurrence{{
					DocumentID: documentID,
					ChunkID:    chunkID,
					Position:   m[2],
					Snippet:    snippet(text, m[2], m[3]),
				}},
				Metadata: map[string]string{"extraction_method": MethodPattern},
			})
		}
	}
	return out
}

func (e *Extractor) llmExtract(ctx context.Context, documentID, chunkID, text string) ([]*Entity, []*Relationship, error) {
	resp, err := e.llm.Chat(ctx, []llms.Message{
		{Role: llms.RoleSystem, Content: "Du bist ein präziser Extraktor. Antworte nur mit JSON."},
		{Role: llms.RoleUser, Content: fmt.Sprintf(entityExtractionPrompt, text)},
	}, llms.Options{Temperature: 0})
	if err != nil {
		return nil, nil, err
	}

	var parsed llmExtraction
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &parsed); err != nil {
		return nil, nil, fmt.Errorf("unparseable extraction response: %w", err)
	}

	byText := make(map[string]*Entity)
	var entities []*Entity
	for _, le := range parsed.Entities {
		if !validEntityType(le.Type) || le.Confidence < e.minConfidence {
			continue
		}
		mention := strings.TrimSpace(le.Text)
		if mention == "" {
			continue
		}
		ent := &Entity{
			ID:            uuid.NewString(),
			Type:          le.Type,
			CanonicalForm: Normalize(mention),
			Aliases:       []string{mention},
			Confidence:    le.Confidence,
			Occurrences: []Occurrence{{
				DocumentID: documentID,
				ChunkID:    chunkID,
				Position:   strings.Index(text, mention),
			}},
			Metadata: map[string]string{"extraction_method": MethodLLM},
		}
		entities = append(entities, ent)
		byText[ent.CanonicalForm] = ent
	}

	var rels []*Relationship
	for _, lr := range parsed.Relationships {
		if !validRelationshipType(lr.Type) || lr.Confidence < e.minConfidence {
			continue
		}
		src, ok1 := byText[Normalize(lr.Source)]
		dst, ok2 := byText[Normalize(lr.Target)]
		if !ok1 || !ok2 || src == dst {
			continue
		}
		rels = append(rels, &Relationship{
			ID:               uuid.NewString(),
			SourceID:         src.ID,
			TargetID:         dst.ID,
			Type:             lr.Type,
			Confidence:       lr.Confidence,
			Evidence:         lr.Evidence,
			SourceDocumentID: documentID,
			ExtractionMethod: MethodLLM,
		})
	}
	return entities, rels, nil
}

// coOccurrenceRels infers edges between entity pairs of the same chunk using
// the type-pair table. Both pair orders are tried; the table order decides
// the edge direction.
func (e *Extractor) coOccurrenceRels(entities []*Entity, documentID string) []*Relationship {
	var out []*Relationship
	seen := map[string]bool{}

	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			src, dst := entities[i], entities[j]
			rel, ok := coOccurrence[[2]string{src.Type, dst.Type}]
			if !ok {
				src, dst = dst, src
				rel, ok = coOccurrence[[2]string{src.Type, dst.Type}]
			}
			if !ok || src.CanonicalForm == dst.CanonicalForm {
				continue
			}
			key := src.ID + "|" + dst.ID + "|" + rel
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, &Relationship{
				ID:               uuid.NewString(),
				SourceID:         src.ID,
				TargetID:         dst.ID,
				Type:             rel,
				Confidence:       coOccurrenceConfidence,
				SourceDocumentID: documentID,
				ExtractionMethod: MethodPattern,
			})
		}
	}
	return out
}

// dedupeEntities folds mentions with the same (type, canonical form) into
// one entity, keeping the highest confidence and the union of aliases and
// occurrences. The remap points discarded entity ids at their survivor.
func dedupeEntities(entities []*Entity) ([]*Entity, map[string]string) {
	byKey := make(map[string]*Entity)
	remap := make(map[string]string)
	var out []*Entity
	for _, ent := range entities {
		key := ent.Type + "|" + ent.CanonicalForm
		if prev, ok := byKey[key]; ok {
			if ent.Confidence > prev.Confidence {
				prev.Confidence = ent.Confidence
			}
			prev.Aliases = unionStrings(prev.Aliases, ent.Aliases)
			prev.Occurrences = append(prev.Occurrences, ent.Occurrences...)
			remap[ent.ID] = prev.ID
			continue
		}
		byKey[key] = ent
		remap[ent.ID] = ent.ID
		out = append(out, ent)
	}
	return out, remap
}

// rebindRelationships repoints edges at the deduplicated entity set and
// drops edges whose endpoints vanished or collapsed onto each other.
func rebindRelationships(rels []*Relationship, remap map[string]string) []*Relationship {
	var out []*Relationship
	for _, rel := range rels {
		src, ok1 := remap[rel.SourceID]
		dst, ok2 := remap[rel.TargetID]
		if !ok1 || !ok2 || src == dst {
			continue
		}
		rel.SourceID, rel.TargetID = src, dst
		out = append(out, rel)
	}
	return out
}

// dedupeRelationships folds edges with the same endpoints and type, keeping
// the strongest. An LLM edge beats the co-occurrence guess for the same pair.
func dedupeRelationships(rels []*Relationship) []*Relationship {
	byKey := make(map[string]*Relationship)
	var out []*Relationship
	for _, rel := range rels {
		key := rel.SourceID + "|" + rel.TargetID + "|" + rel.Type
		if prev, ok := byKey[key]; ok {
			if rel.Confidence > prev.Confidence {
				*prev = *rel
			}
			continue
		}
		byKey[key] = rel
		out = append(out, rel)
	}
	return out
}

func validEntityType(t string) bool {
	switch t {
	case TypePerson, TypeOrganization, TypeProject, TypeProduct, TypeDocument,
		TypeTopic, TypeLocation, TypeDate, TypeRegulation:
		return true
	}
	return false
}

func validRelationshipType(t string) bool {
	switch t {
	case RelWorksFor, RelManages, RelCreated, RelMentions, RelReferences,
		RelAbout, RelPartOf, RelReportsTo, RelCollaboratesWith, RelApprovedBy:
		return true
	}
	return false
}

// mergeMentions concatenates two mention sets; dedupeEntities folds them.
func mergeMentions(a, b []*Entity) []*Entity {
	return append(a, b...)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := a
	for _, s := range a {
		seen[strings.ToLower(s)] = true
	}
	for _, s := range b {
		if !seen[strings.ToLower(s)] {
			seen[strings.ToLower(s)] = true
			out = append(out, s)
		}
	}
	return out
}

func snippet(text string, start, end int) string {
	const pad = 40
	s := start - pad
	if s < 0 {
		s = 0
	}
	e := end + pad
	if e > len(text) {
		e = len(text)
	}
	return strings.TrimSpace(text[s:e])
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// stripFences unwraps a markdown code fence if the model added one.
func stripFences(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}
