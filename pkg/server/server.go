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

// Package server exposes the docrag HTTP API: chat with SSE streaming,
// health, evaluation, and monitoring.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/docrag/pkg/cache"
	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/evaluation"
	"github.com/kadirpekel/docrag/pkg/logger"
	"github.com/kadirpekel/docrag/pkg/pipeline"
	"github.com/kadirpekel/docrag/pkg/store"
	"github.com/kadirpekel/docrag/pkg/tracing"
)

// Chat is the query surface of the pipeline.
type Chat interface {
	Ask(ctx context.Context, req pipeline.Request) (*pipeline.Answer, error)
	AskStream(ctx context.Context, req pipeline.Request) (<-chan pipeline.Event, error)
}

// Evaluator is the evaluation harness surface. Start returns the run id;
// the run itself proceeds in the background.
type Evaluator interface {
	Start(ctx context.Context, version, category string, cfg json.RawMessage) (string, error)
	Compare(ctx context.Context, runA, runB string) (*evaluation.Comparison, error)
}

// Options wire the server's collaborators. Everything except Chat and Health
// may be nil; the corresponding endpoints then answer 503.
type Options struct {
	Config config.Config

	Chat    Chat
	Health  *pipeline.Health
	Store   *store.Store
	Cache   cache.Cache
	Monitor *tracing.Monitor
	Alerts  *tracing.AlertGenerator
	Eval    Evaluator

	// ModelName is the default model advertised on /models. Models lists
	// every selectable model; when empty it falls back to ModelName alone.
	ModelName string
	Models    []string
}

// Server is the docrag HTTP server.
type Server struct {
	opts   Options
	http   *http.Server
	logger *slog.Logger
}

// New builds the server and its route tree.
func New(opts Options) *Server {
	if len(opts.Models) == 0 && opts.ModelName != "" {
		opts.Models = []string{opts.ModelName}
	}
	s := &Server{
		opts:   opts,
		logger: logger.Get().With("component", "server"),
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Config.Server.Host, opts.Config.Server.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route tree, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)
	r.Get("/models", s.handleModels)

	if s.opts.Config.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/evaluation", func(r chi.Router) {
		r.Post("/run", s.handleEvalRun)
		r.Get("/runs", s.handleEvalRuns)
		r.Get("/runs/{id}", s.handleEvalRunDetail)
		r.Get("/runs/{id}/results", s.handleEvalRunResults)
		r.Get("/compare", s.handleEvalCompare)
		r.Route("/golden-dataset", func(r chi.Router) {
			r.Get("/", s.handleGoldenList)
			r.Post("/", s.handleGoldenCreate)
			r.Post("/bulk", s.handleGoldenBulk)
			r.Get("/{id}", s.handleGoldenGet)
			r.Put("/{id}", s.handleGoldenUpdate)
			r.Delete("/{id}", s.handleGoldenDelete)
		})
	})

	r.Route("/monitoring", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/hourly", s.handleHourly)
		r.Get("/alerts", s.handleAlerts)
		r.Post("/alerts/check", s.handleAlertsCheck)
		r.Post("/alerts/{id}/acknowledge", s.handleAlertAcknowledge)
		r.Get("/cache", s.handleCacheStats)
		r.Post("/cache/flush", s.handleCacheFlush)
		r.Get("/traces/recent", s.handleRecentTraces)
		r.Get("/traces/stats", s.handleTraceStats)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.opts.Config.Server.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// userFromRequest builds the caller identity from the identity headers set
// by the auth proxy in front of this service.
func userFromRequest(r *http.Request) store.UserContext {
	return store.UserContext{
		UserID:     r.Header.Get("X-User-ID"),
		Role:       r.Header.Get("X-User-Role"),
		Department: r.Header.Get("X-User-Department"),
	}
}
