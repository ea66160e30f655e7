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

// Package embedders provides the embedding-service adapter.
package embedders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kadirpekel/docrag/pkg/cache"
)

// Embedder is the embedding contract consumed by retrieval and the graph
// subsystem.
type Embedder interface {
	// Embed returns the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model name.
	Model() string

	// Dimension returns the embedding vector size.
	Dimension() int

	// HealthCheck reports reachability.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}

const embeddingCacheTTL = time.Hour

// Cached wraps an embedder with a cache keyed by hash(text, model).
type Cached struct {
	inner Embedder
	cache cache.Cache
}

// NewCached wraps inner with caching.
func NewCached(inner Embedder, c cache.Cache) *Cached {
	return &Cached{inner: inner, cache: c}
}

func (c *Cached) key(text string) string {
	return cache.Key("emb", text, c.inner.Model())
}

// Embed returns a cached embedding or delegates to the inner embedder.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if raw, found, _ := c.cache.Get(ctx, c.key(text)); found {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		_ = c.cache.Set(ctx, c.key(text), raw, embeddingCacheTTL)
	}
	return vec, nil
}

// EmbedBatch serves cached entries and embeds only the misses, preserving
// input order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	var missIdx []int

	cached, _ := c.cache.MGet(ctx, keys)
	for i, raw := range cached {
		if raw == nil {
			missIdx = append(missIdx, i)
			continue
		}
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err != nil {
			missIdx = append(missIdx, i)
			continue
		}
		out[i] = vec
	}

	if len(missIdx) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	entries := make(map[string][]byte, len(missIdx))
	for j, i := range missIdx {
		out[i] = vecs[j]
		if raw, err := json.Marshal(vecs[j]); err == nil {
			entries[keys[i]] = raw
		}
	}
	_ = c.cache.MSet(ctx, entries, embeddingCacheTTL)

	return out, nil
}

func (c *Cached) Model() string { return c.inner.Model() }

func (c *Cached) Dimension() int { return c.inner.Dimension() }

func (c *Cached) HealthCheck(ctx context.Context) error { return c.inner.HealthCheck(ctx) }

func (c *Cached) Close() error { return c.inner.Close() }

var (
	_ Embedder = (*Cached)(nil)
	_ Embedder = (*OpenAI)(nil)
)
