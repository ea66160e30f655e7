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

// Package config defines the docrag configuration model.
//
// Configuration is loaded from a YAML file with ${ENV_VAR:-default}
// expansion, so every knob is ultimately environment-sourced. A .env file in
// the working directory is honored via godotenv.
package config

import "fmt"

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	RAG        RAGConfig        `yaml:"rag"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Trace      TraceConfig      `yaml:"trace"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Reranker   RerankerConfig   `yaml:"reranker"`
	Vector     VectorConfig     `yaml:"vector"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ShutdownTimeoutSeconds bounds graceful shutdown.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// RAGConfig holds the retrieval pipeline tuning knobs.
type RAGConfig struct {
	// Version selects the pipeline generation ("v1" or "v2").
	Version string `yaml:"version"`

	// HybridAlpha blends lexical (0) and vector (1) scores.
	HybridAlpha float64 `yaml:"hybrid_alpha"`

	// SearchLimit is the maximum number of primary hits.
	SearchLimit int `yaml:"search_limit"`

	// SearchThreshold filters hits below this fused score.
	SearchThreshold float64 `yaml:"search_threshold"`

	Rerank    RerankConfig    `yaml:"rerank"`
	Expansion ExpansionConfig `yaml:"expansion"`
	Graph     GraphConfig     `yaml:"graph"`
}

// RerankConfig configures cross-encoder reranking.
type RerankConfig struct {
	Enabled bool `yaml:"enabled"`
	TopK    int  `yaml:"top_k"`
}

// ExpansionConfig configures document expansion.
type ExpansionConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MaxDocs         int     `yaml:"max_docs"`
	MaxChunksPerDoc int     `yaml:"max_chunks_per_doc"`
	Threshold       float64 `yaml:"threshold"`
}

// GraphConfig configures knowledge-graph enrichment.
type GraphConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxDepth int  `yaml:"max_depth"`
	MaxNodes int  `yaml:"max_nodes"`

	// UseLLMExtraction adds LLM-based extraction on top of patterns.
	UseLLMExtraction bool `yaml:"use_llm_extraction"`

	// MinConfidence drops extracted entities and relationships below it.
	MinConfidence float64 `yaml:"min_confidence"`

	// ResolutionThreshold is the similarity cutoff for merging entities.
	ResolutionThreshold float64 `yaml:"resolution_threshold"`
}

// GuardrailsConfig configures input and output guardrails.
type GuardrailsConfig struct {
	Enabled bool `yaml:"enabled"`

	MinQueryLength      int `yaml:"min_query_length"`
	MaxQueryLength      int `yaml:"max_query_length"`
	MaxQueriesPerMinute int `yaml:"max_queries_per_minute"`

	GroundednessThreshold float64 `yaml:"groundedness_threshold"`
	RequireCitations      bool    `yaml:"require_citations"`
	MaxResponseLength     int     `yaml:"max_response_length"`
}

// TraceConfig configures request tracing.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
	Persist    bool    `yaml:"persist"`
}

// AlertsConfig holds alert generator thresholds.
type AlertsConfig struct {
	P95LatencyMs int     `yaml:"p95_latency_ms"`
	ErrorRate    float64 `yaml:"error_rate"`
	CacheHitRate float64 `yaml:"cache_hit_rate"`
}

// LLMConfig configures the LLM adapter.
type LLMConfig struct {
	// BaseURL of the OpenAI-compatible chat API.
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`

	// Model is the default generation model.
	Model string `yaml:"model"`

	// TimeoutSeconds bounds one generation call (long budget).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// HistoryTokenBudget caps conversation history passed to the model.
	HistoryTokenBudget int `yaml:"history_token_budget"`
}

// EmbedderConfig configures the embedding adapter.
type EmbedderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
	Model   string `yaml:"model"`

	// Dimension of produced vectors.
	Dimension int `yaml:"dimension"`

	// BatchSize bounds the fan-out of batch embedding calls.
	BatchSize int `yaml:"batch_size"`

	// TimeoutSeconds bounds one embedding call (medium budget).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// CacheTTLSeconds is the embedding cache TTL.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// RerankerConfig configures the cross-encoder reranker adapter.
type RerankerConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
	Model   string `yaml:"model"`

	// TimeoutMs is the wall-clock budget; on timeout the caller keeps the
	// original ordering.
	TimeoutMs int `yaml:"timeout_ms"`
}

// VectorConfig configures the vector store adapter.
type VectorConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key,omitempty"`
	EnableTLS  bool   `yaml:"enable_tls"`
	Collection string `yaml:"collection"`

	// VectorSize is the dimension of the collection's dense vectors.
	VectorSize int `yaml:"vector_size"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// DSN is a lib/pq connection string.
	DSN string `yaml:"dsn"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MigrateOnStart applies schema migrations during startup.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// CacheConfig configures the optional cache.
type CacheConfig struct {
	// Enabled switches between the redis cache and the no-op cache.
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Pass    string `yaml:"password,omitempty"`
	DB      int    `yaml:"db"`

	// DefaultTTLSeconds applies when a caller passes no TTL.
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
}

// MetricsConfig configures the prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}

	if c.RAG.Version == "" {
		c.RAG.Version = "v2"
	}
	if c.RAG.HybridAlpha == 0 {
		c.RAG.HybridAlpha = 0.7
	}
	if c.RAG.SearchLimit == 0 {
		c.RAG.SearchLimit = 20
	}
	if c.RAG.Rerank.TopK == 0 {
		c.RAG.Rerank.TopK = 5
	}
	if c.RAG.Expansion.MaxDocs == 0 {
		c.RAG.Expansion.MaxDocs = 3
	}
	if c.RAG.Expansion.MaxChunksPerDoc == 0 {
		c.RAG.Expansion.MaxChunksPerDoc = 5
	}
	if c.RAG.Expansion.Threshold == 0 {
		c.RAG.Expansion.Threshold = 0.5
	}
	if c.RAG.Graph.MaxDepth == 0 {
		c.RAG.Graph.MaxDepth = 2
	}
	if c.RAG.Graph.MaxNodes == 0 {
		c.RAG.Graph.MaxNodes = 50
	}
	if c.RAG.Graph.MinConfidence == 0 {
		c.RAG.Graph.MinConfidence = 0.5
	}
	if c.RAG.Graph.ResolutionThreshold == 0 {
		c.RAG.Graph.ResolutionThreshold = 0.85
	}

	if c.Guardrails.MinQueryLength == 0 {
		c.Guardrails.MinQueryLength = 3
	}
	if c.Guardrails.MaxQueryLength == 0 {
		c.Guardrails.MaxQueryLength = 2000
	}
	if c.Guardrails.MaxQueriesPerMinute == 0 {
		c.Guardrails.MaxQueriesPerMinute = 30
	}
	if c.Guardrails.GroundednessThreshold == 0 {
		c.Guardrails.GroundednessThreshold = 0.7
	}
	if c.Guardrails.MaxResponseLength == 0 {
		c.Guardrails.MaxResponseLength = 8000
	}

	if c.Trace.SampleRate == 0 && c.Trace.Enabled {
		c.Trace.SampleRate = 1.0
	}

	if c.Alerts.P95LatencyMs == 0 {
		c.Alerts.P95LatencyMs = 5000
	}
	if c.Alerts.ErrorRate == 0 {
		c.Alerts.ErrorRate = 0.05
	}
	if c.Alerts.CacheHitRate == 0 {
		c.Alerts.CacheHitRate = 0.2
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.1:8b"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.HistoryTokenBudget == 0 {
		c.LLM.HistoryTokenBudget = 4096
	}

	if c.Embedder.BaseURL == "" {
		c.Embedder.BaseURL = "http://localhost:11434"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "nomic-embed-text"
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 768
	}
	if c.Embedder.BatchSize == 0 {
		c.Embedder.BatchSize = 16
	}
	if c.Embedder.TimeoutSeconds == 0 {
		c.Embedder.TimeoutSeconds = 30
	}
	if c.Embedder.CacheTTLSeconds == 0 {
		c.Embedder.CacheTTLSeconds = 3600
	}

	if c.Reranker.TimeoutMs == 0 {
		c.Reranker.TimeoutMs = 3000
	}

	if c.Vector.Host == "" {
		c.Vector.Host = "localhost"
	}
	if c.Vector.Port == 0 {
		c.Vector.Port = 6334
	}
	if c.Vector.Collection == "" {
		c.Vector.Collection = "docrag_chunks"
	}
	if c.Vector.VectorSize == 0 {
		c.Vector.VectorSize = c.Embedder.Dimension
	}
	if c.Vector.TimeoutSeconds == 0 {
		c.Vector.TimeoutSeconds = 10
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Cache.Addr == "" {
		c.Cache.Addr = "localhost:6379"
	}
	if c.Cache.DefaultTTLSeconds == 0 {
		c.Cache.DefaultTTLSeconds = 3600
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.RAG.Version != "v1" && c.RAG.Version != "v2" {
		return fmt.Errorf("invalid rag.version %q (valid: v1, v2)", c.RAG.Version)
	}
	if c.RAG.HybridAlpha < 0 || c.RAG.HybridAlpha > 1 {
		return fmt.Errorf("rag.hybrid_alpha must be in [0,1], got %v", c.RAG.HybridAlpha)
	}
	if c.RAG.SearchLimit <= 0 {
		return fmt.Errorf("rag.search_limit must be positive")
	}
	if c.RAG.SearchThreshold < 0 || c.RAG.SearchThreshold > 1 {
		return fmt.Errorf("rag.search_threshold must be in [0,1]")
	}
	if c.RAG.Rerank.TopK <= 0 {
		return fmt.Errorf("rag.rerank.top_k must be positive")
	}
	if c.Guardrails.MinQueryLength >= c.Guardrails.MaxQueryLength {
		return fmt.Errorf("guardrails.min_query_length must be below max_query_length")
	}
	if c.Trace.SampleRate < 0 || c.Trace.SampleRate > 1 {
		return fmt.Errorf("trace.sample_rate must be in [0,1]")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
