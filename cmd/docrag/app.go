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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/docrag/pkg/cache"
	"github.com/kadirpekel/docrag/pkg/compose"
	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/embedders"
	"github.com/kadirpekel/docrag/pkg/evaluation"
	"github.com/kadirpekel/docrag/pkg/graph"
	"github.com/kadirpekel/docrag/pkg/guardrails"
	"github.com/kadirpekel/docrag/pkg/llms"
	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/pipeline"
	"github.com/kadirpekel/docrag/pkg/ratelimit"
	"github.com/kadirpekel/docrag/pkg/rerank"
	"github.com/kadirpekel/docrag/pkg/retrieval"
	"github.com/kadirpekel/docrag/pkg/router"
	"github.com/kadirpekel/docrag/pkg/store"
	"github.com/kadirpekel/docrag/pkg/tracing"
	"github.com/kadirpekel/docrag/pkg/utils"
	"github.com/kadirpekel/docrag/pkg/vector"
)

// app holds the wired service graph shared by all commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	cache    cache.Cache
	vectors  vector.Store
	embedder embedders.Embedder
	reranker rerank.Reranker
	graph    graph.Store
	llm      llms.LLM
	tracer   *tracing.Tracer
	metrics  *observability.Metrics
	pipeline *pipeline.Pipeline
	health   *pipeline.Health
	monitor  *tracing.Monitor
	alerts   *tracing.AlertGenerator
	harness  *evaluation.Harness
}

func buildApp(ctx context.Context, cli *CLI) (*app, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	a.store, err = store.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.MigrateOnStart {
		if err := a.store.Migrate(ctx); err != nil {
			a.store.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	if cfg.Cache.Enabled {
		a.cache = cache.NewRedis(cfg.Cache)
	} else {
		a.cache = cache.NewNoop()
	}

	a.vectors, err = vector.NewQdrant(ctx, cfg.Vector)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to vector store: %w", err)
	}

	a.embedder = embedders.NewCached(embedders.NewOpenAI(cfg.Embedder), a.cache)
	a.llm = llms.NewOpenAI(cfg.LLM)

	if cfg.RAG.Rerank.Enabled {
		a.reranker = rerank.NewHTTP(cfg.Reranker)
	}
	if cfg.RAG.Graph.Enabled {
		a.graph = graph.NewSQLStore(a.store)
	}

	engine := retrieval.New(a.store, a.vectors, a.embedder, a.reranker, a.graph, a.cache, cfg.RAG)

	var limiter ratelimit.Limiter
	if cfg.Cache.Enabled {
		limiter = ratelimit.NewCached(a.cache, cfg.Guardrails.MaxQueriesPerMinute)
	} else {
		limiter = ratelimit.NewMemory(cfg.Guardrails.MaxQueriesPerMinute)
	}

	counter, err := utils.NewTokenCounter(cfg.LLM.Model)
	if err != nil {
		// Composer falls back to its character estimate.
		slog.Warn("token counter unavailable, using character estimate", "error", err)
		counter = nil
	}

	a.tracer = tracing.New(cfg.Trace, a.store)
	a.metrics, err = observability.Init(cfg.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline = pipeline.New(
		guardrails.NewInput(cfg.Guardrails, limiter),
		guardrails.NewOutput(cfg.Guardrails),
		router.New(cfg.RAG.Graph.Enabled),
		engine,
		compose.New(counter, cfg.LLM.HistoryTokenBudget),
		a.llm,
		a.tracer,
		a.metrics,
		*cfg,
	)

	a.health = pipeline.NewHealth()
	a.health.Register("database", a.store)
	a.health.Register("vector", a.vectors)
	a.health.Register("embedder", a.embedder)
	a.health.Register("llm", a.llm)
	a.health.Register("cache", a.cache)
	if a.reranker != nil {
		a.health.Register("reranker", a.reranker)
	}
	if a.graph != nil {
		a.health.Register("graph", a.graph)
	}

	a.monitor = tracing.NewMonitor(a.store, a.cache)
	a.alerts = tracing.NewAlertGenerator(a.store, a.cache, cfg.Alerts)
	a.harness = evaluation.New(a.store, evalTarget{a.pipeline}, nil)

	return a, nil
}

// Close releases adapters in reverse wiring order. Safe on a partially
// built app.
func (a *app) Close() {
	if a.llm != nil {
		_ = a.llm.Close()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// evalTarget runs the full pipeline for the evaluation harness.
type evalTarget struct {
	pipeline *pipeline.Pipeline
}

func (t evalTarget) Run(ctx context.Context, query string, user store.UserContext) (*evaluation.Outcome, error) {
	ans, err := t.pipeline.Ask(ctx, pipeline.Request{
		Query:     query,
		SessionID: "evaluation",
		User:      user,
	})
	if err != nil {
		return nil, err
	}
	return &evaluation.Outcome{
		Answer:       ans.Text,
		Hits:         ans.Sources,
		Groundedness: ans.Groundedness,
		LatencyMs:    ans.LatencyMs,
	}, nil
}
