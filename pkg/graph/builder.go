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
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/docrag/pkg/logger"
)

// extractConcurrency bounds parallel chunk extraction. LLM extraction is the
// slow path; patterns alone barely need it.
const extractConcurrency = 8

// ChunkText is one chunk handed to graph building.
type ChunkText struct {
	ChunkID string
	Text    string
}

// Builder runs extraction and resolution over a document's chunks and
// persists the outcome.
type Builder struct {
	extractor *Extractor
	resolver  *Resolver
	store     Store
	logger    *slog.Logger
}

// NewBuilder wires the graph build path.
func NewBuilder(extractor *Extractor, resolver *Resolver, store Store) *Builder {
	return &Builder{
		extractor: extractor,
		resolver:  resolver,
		store:     store,
		logger:    logger.Get().With("component", "graph.builder"),
	}
}

// BuildForDocument extracts entities and relationships from the chunks,
// resolves duplicates across chunks, and upserts the result. Re-indexing a
// document first drops its previous occurrences.
func (b *Builder) BuildForDocument(ctx context.Context, documentID string, chunks []ChunkText) error {
	if err := b.store.DeleteForDocument(ctx, documentID); err != nil {
		return err
	}

	var mu sync.Mutex
	var entities []*Entity
	var rels []*Relationship

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)
	for _, chunk := range chunks {
		g.Go(func() error {
			ents, chunkRels, err := b.extractor.ExtractChunk(gctx, documentID, chunk.ChunkID, chunk.Text)
			if err != nil {
				return err
			}
			mu.Lock()
			entities = append(entities, ents...)
			rels = append(rels, chunkRels...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	resolved, remap, err := b.resolver.Resolve(ctx, entities)
	if err != nil {
		return err
	}
	rels = rebindRelationships(rels, remap)

	if err := b.store.UpsertEntities(ctx, resolved); err != nil {
		return err
	}
	if err := b.store.UpsertRelationships(ctx, rels); err != nil {
		return err
	}

	b.logger.Info("graph built",
		"document_id", documentID,
		"chunks", len(chunks),
		"entities", len(resolved),
		"relationships", len(rels))
	return nil
}
