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

// Package graph holds the knowledge-graph subsystem: entity extraction from
// chunks, entity resolution, and online traversal for retrieval enrichment.
package graph

import (
	"context"
	"regexp"
	"strings"
)

// Entity types.
const (
	TypePerson       = "PERSON"
	TypeOrganization = "ORGANIZATION"
	TypeProject      = "PROJECT"
	TypeProduct      = "PRODUCT"
	TypeDocument     = "DOCUMENT"
	TypeTopic        = "TOPIC"
	TypeLocation     = "LOCATION"
	TypeDate         = "DATE"
	TypeRegulation   = "REGULATION"
)

// Relationship types.
const (
	RelWorksFor         = "WORKS_FOR"
	RelManages          = "MANAGES"
	RelCreated          = "CREATED"
	RelMentions         = "MENTIONS"
	RelReferences       = "REFERENCES"
	RelAbout            = "ABOUT"
	RelPartOf           = "PART_OF"
	RelReportsTo        = "REPORTS_TO"
	RelCollaboratesWith = "COLLABORATES_WITH"
	RelApprovedBy       = "APPROVED_BY"
)

// Extraction methods.
const (
	MethodPattern = "pattern"
	MethodLLM     = "llm"
)

// Occurrence ties an entity to the chunk it was found in.
type Occurrence struct {
	DocumentID string `json:"documentId"`
	ChunkID    string `json:"chunkId"`
	Position   int    `json:"position"`
	Snippet    string `json:"snippet,omitempty"`
}

// Entity is one knowledge-graph node.
type Entity struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	CanonicalForm string            `json:"canonicalForm"`
	Aliases       []string          `json:"aliases,omitempty"`
	Confidence    float64           `json:"confidence"`
	Occurrences   []Occurrence      `json:"occurrences,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Relationship is one directed edge.
type Relationship struct {
	ID               string  `json:"id"`
	SourceID         string  `json:"sourceId"`
	TargetID         string  `json:"targetId"`
	Type             string  `json:"type"`
	Confidence       float64 `json:"confidence"`
	Evidence         string  `json:"evidence,omitempty"`
	SourceDocumentID string  `json:"sourceDocumentId,omitempty"`
	ExtractionMethod string  `json:"extractionMethod"`
}

// Traversal strategies.
const (
	StrategyNeighborhood = "neighborhood"
	StrategyShortestPath = "shortest_path"
	StrategyCommunity    = "community"
)

// TraverseParams parameterize one traversal.
type TraverseParams struct {
	StartEntities     []string
	Strategy          string
	MaxDepth          int
	MaxNodes          int
	RelationshipTypes []string
}

// TraverseResult is the node/edge set of one traversal plus a deterministic
// natural-language summary.
type TraverseResult struct {
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
	Summary       string          `json:"summary"`
}

// Store is the graph persistence contract.
type Store interface {
	// UpsertEntities stores entities, merging by (type, canonical form).
	UpsertEntities(ctx context.Context, entities []*Entity) error

	// UpsertRelationships stores edges.
	UpsertRelationships(ctx context.Context, rels []*Relationship) error

	// FindByText resolves free-text mentions to entities via canonical
	// forms and aliases.
	FindByText(ctx context.Context, texts []string) ([]*Entity, error)

	// Traverse walks the graph from the start entities.
	Traverse(ctx context.Context, p TraverseParams) (*TraverseResult, error)

	// DeleteForDocument removes occurrences of one document and prunes
	// orphaned entities and edges.
	DeleteForDocument(ctx context.Context, documentID string) error

	// HealthCheck reports reachability.
	HealthCheck(ctx context.Context) error
}

var punctStrip = regexp.MustCompile(`[^\p{L}\p{N}\s-]`)
var whitespaceCollapse = regexp.MustCompile(`\s+`)

// Normalize produces the canonical form of an entity mention: lowercase,
// trimmed, whitespace collapsed, punctuation stripped. Stable: normalizing
// a normalized string is a no-op.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = punctStrip.ReplaceAllString(text, "")
	text = whitespaceCollapse.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
