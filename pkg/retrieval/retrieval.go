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

// Package retrieval runs the permission-aware retrieval pipeline.
//
// The pipeline degrades per step: a failing embedder falls back to lexical
// search, a failing reranker keeps the hybrid order, failing expansion or
// graph enrichment keep the primary hits. Only permission resolution is a
// hard error; every degradation is reported as a warning on the result.
package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/kadirpekel/docrag/pkg/cache"
	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/embedders"
	"github.com/kadirpekel/docrag/pkg/errors"
	"github.com/kadirpekel/docrag/pkg/graph"
	"github.com/kadirpekel/docrag/pkg/logger"
	"github.com/kadirpekel/docrag/pkg/rerank"
	"github.com/kadirpekel/docrag/pkg/router"
	"github.com/kadirpekel/docrag/pkg/store"
	"github.com/kadirpekel/docrag/pkg/tracing"
	"github.com/kadirpekel/docrag/pkg/vector"
)

const (
	expansionScore = 0.1
	rerankCacheTTL = 10 * time.Minute
)

// Request is one retrieval invocation.
type Request struct {
	Query    string
	User     store.UserContext
	Analysis router.QueryAnalysis

	// Overrides layer per-request tuning over the configured defaults.
	Overrides Overrides
}

// Overrides are per-request retrieval knobs. Nil or zero fields keep the
// configured value.
type Overrides struct {
	SearchLimit     int
	SearchThreshold *float64
	HybridAlpha     *float64
	Rerank          *bool
	UseGraph        *bool
}

// Result is the retrieved context for generation.
type Result struct {
	Hits                  []vector.SearchHit
	GraphContext          string
	Warnings              []string
	NoAccessibleDocuments bool
}

// PermissionResolver resolves the documents a user may read. Implemented by
// the relational store via row-level security.
type PermissionResolver interface {
	AllowedDocumentIDs(ctx context.Context, uc store.UserContext) ([]string, error)
}

// Engine executes retrieval requests. reranker and graphStore may be nil
// when the corresponding features are disabled.
type Engine struct {
	perms    PermissionResolver
	vectors  vector.Store
	embedder embedders.Embedder
	reranker rerank.Reranker
	graph    graph.Store
	cache    cache.Cache
	cfg      config.RAGConfig
	logger   *slog.Logger
}

// New wires the retrieval engine.
func New(perms PermissionResolver, vectors vector.Store, embedder embedders.Embedder,
	reranker rerank.Reranker, graphStore graph.Store, c cache.Cache, cfg config.RAGConfig) *Engine {
	return &Engine{
		perms:    perms,
		vectors:  vectors,
		embedder: embedder,
		reranker: reranker,
		graph:    graphStore,
		cache:    c,
		cfg:      cfg,
		logger:   logger.Get().With("component", "retrieval"),
	}
}

// Retrieve runs the pipeline. The only hard failure is permission
// resolution; everything downstream degrades with a warning.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Result, error) {
	e = e.withOverrides(req.Overrides)
	res := &Result{}
	tr := tracing.FromContext(ctx)

	allowed, err := e.perms.AllowedDocumentIDs(ctx, req.User)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "permission resolution failed", err)
	}
	if len(allowed) == 0 {
		res.NoAccessibleDocuments = true
		return res, nil
	}

	embedding, alpha := e.embedQuery(ctx, tr, req.Query, res)
	if ctx.Err() != nil {
		return nil, errors.Wrap(errors.KindCancelled, "retrieval cancelled", ctx.Err())
	}

	hits := e.search(ctx, tr, req, embedding, alpha, allowed, res)
	if ctx.Err() != nil {
		return nil, errors.Wrap(errors.KindCancelled, "retrieval cancelled", ctx.Err())
	}

	hits = e.rerankHits(ctx, tr, req.Query, hits, res)
	hits = e.expand(ctx, tr, hits, res)
	res.Hits = hits

	e.enrichFromGraph(ctx, tr, req.Analysis, res)
	return res, nil
}

// withOverrides returns a shallow copy whose config reflects the request's
// overrides, or the engine itself when nothing is overridden.
func (e *Engine) withOverrides(o Overrides) *Engine {
	if o.SearchLimit <= 0 && o.SearchThreshold == nil && o.HybridAlpha == nil && o.Rerank == nil && o.UseGraph == nil {
		return e
	}

	eng := *e
	if o.SearchLimit > 0 {
		eng.cfg.SearchLimit = o.SearchLimit
	}
	if o.SearchThreshold != nil {
		eng.cfg.SearchThreshold = *o.SearchThreshold
	}
	if o.HybridAlpha != nil {
		eng.cfg.HybridAlpha = *o.HybridAlpha
	}
	if o.Rerank != nil {
		eng.cfg.Rerank.Enabled = *o.Rerank
	}
	if o.UseGraph != nil {
		eng.cfg.Graph.Enabled = *o.UseGraph
	}
	return &eng
}

// embedQuery returns the query embedding and the effective alpha. An
// unavailable embedder degrades to pure lexical scoring.
func (e *Engine) embedQuery(ctx context.Context, tr *tracing.Trace, query string, res *Result) ([]float32, float64) {
	span := tr.StartSpan(tracing.SpanEmbedding)

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		span.EndWithError(err)
		if ctx.Err() == nil {
			e.logger.Warn("query embedding failed, degrading to lexical search", "error", err)
			res.Warnings = append(res.Warnings, "embedding unavailable, lexical search only")
		}
		return nil, 0
	}
	span.End()
	return embedding, e.cfg.HybridAlpha
}

func (e *Engine) search(ctx context.Context, tr *tracing.Trace, req Request,
	embedding []float32, alpha float64, allowed []string, res *Result) []vector.SearchHit {
	span := tr.StartSpan(tracing.SpanVectorSearch)

	hits, err := e.vectors.HybridSearch(ctx, vector.HybridParams{
		Query:              req.Query,
		Embedding:          embedding,
		Limit:              e.cfg.SearchLimit,
		Threshold:          e.cfg.SearchThreshold,
		Alpha:              alpha,
		AllowedDocumentIDs: allowed,
		LevelFilter:        req.Analysis.RecommendedLevels,
	})
	if err != nil {
		span.EndWithError(err)
		if ctx.Err() == nil {
			e.logger.Error("vector search failed", "error", err)
			res.Warnings = append(res.Warnings, "vector search unavailable")
		}
		return nil
	}
	span.Annotate("hits", strconv.Itoa(len(hits)))
	span.End()
	return hits
}

// rerankHits reorders hits with the cross-encoder. Hits the reranker drops
// are dropped here too. Failures and timeouts keep the hybrid order.
func (e *Engine) rerankHits(ctx context.Context, tr *tracing.Trace, query string, hits []vector.SearchHit, res *Result) []vector.SearchHit {
	if !e.cfg.Rerank.Enabled || e.reranker == nil || len(hits) == 0 {
		return hits
	}

	span := tr.StartSpan(tracing.SpanReranking)

	keyParts := make([]string, 0, len(hits)+1)
	keyParts = append(keyParts, query)
	for _, h := range hits {
		keyParts = append(keyParts, h.ChunkID)
	}
	key := cache.Key("rerank", keyParts...)

	var results []rerank.Result
	if raw, found, _ := e.cache.Get(ctx, key); found {
		if json.Unmarshal(raw, &results) == nil && validIndices(results, len(hits)) {
			span.Annotate("cache", "hit")
			span.End()
			return applyRerank(hits, results)
		}
		results = nil
	}

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Content
	}

	results, err := e.reranker.Rerank(ctx, query, docs, e.cfg.Rerank.TopK)
	if err != nil || !validIndices(results, len(hits)) {
		span.EndWithError(err)
		if ctx.Err() == nil {
			e.logger.Warn("reranking failed, keeping hybrid order", "error", err)
			res.Warnings = append(res.Warnings, "reranking unavailable, using hybrid order")
		}
		return hits
	}
	span.End()

	if raw, err := json.Marshal(results); err == nil {
		_ = e.cache.Set(ctx, key, raw, rerankCacheTTL)
	}
	return applyRerank(hits, results)
}

func validIndices(results []rerank.Result, n int) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Index < 0 || r.Index >= n {
			return false
		}
	}
	return true
}

func applyRerank(hits []vector.SearchHit, results []rerank.Result) []vector.SearchHit {
	out := make([]vector.SearchHit, 0, len(results))
	for _, r := range results {
		h := hits[r.Index]
		h.Score = r.Score
		out = append(out, h)
	}
	return out
}

// expand appends additional detail chunks from strongly matching documents.
// Expansion hits carry a fixed nominal score and never displace primaries.
func (e *Engine) expand(ctx context.Context, tr *tracing.Trace, hits []vector.SearchHit, res *Result) []vector.SearchHit {
	if !e.cfg.Expansion.Enabled || len(hits) == 0 {
		return hits
	}

	var docIDs []string
	seen := map[string]bool{}
	for _, h := range hits {
		if h.Score < e.cfg.Expansion.Threshold || seen[h.DocumentID] {
			continue
		}
		seen[h.DocumentID] = true
		docIDs = append(docIDs, h.DocumentID)
		if len(docIDs) == e.cfg.Expansion.MaxDocs {
			break
		}
	}
	if len(docIDs) == 0 {
		return hits
	}

	exclude := make([]string, len(hits))
	for i, h := range hits {
		exclude[i] = h.ChunkID
	}

	extra, err := e.vectors.ChunksByDocumentIDs(ctx, docIDs, vector.ExpansionParams{
		MaxPerDoc:       e.cfg.Expansion.MaxChunksPerDoc,
		LevelFilter:     []int{2},
		ExcludeChunkIDs: exclude,
	})
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("document expansion failed", "error", err)
			res.Warnings = append(res.Warnings, "document expansion unavailable")
		}
		return hits
	}

	for i := range extra {
		extra[i].Score = expansionScore
		extra[i].Tag = vector.TagExpansion
	}
	return append(hits, extra...)
}

// enrichFromGraph adds a knowledge-graph summary for the query's entities.
// It never reorders hits.
func (e *Engine) enrichFromGraph(ctx context.Context, tr *tracing.Trace, analysis router.QueryAnalysis, res *Result) {
	if !e.cfg.Graph.Enabled || e.graph == nil || !analysis.RequiresGraph || len(analysis.Entities) == 0 {
		return
	}

	span := tr.StartSpan(tracing.SpanGraphTraversal)

	traversal, err := e.graph.Traverse(ctx, graph.TraverseParams{
		StartEntities: analysis.Entities,
		Strategy:      graph.StrategyNeighborhood,
		MaxDepth:      e.cfg.Graph.MaxDepth,
		MaxNodes:      e.cfg.Graph.MaxNodes,
	})
	if err != nil {
		span.EndWithError(err)
		if ctx.Err() == nil {
			e.logger.Warn("graph traversal failed", "error", err)
			res.Warnings = append(res.Warnings, "graph context unavailable")
		}
		return
	}
	span.Annotate("entities", strconv.Itoa(len(traversal.Entities)))
	span.End()

	res.GraphContext = traversal.Summary
}
