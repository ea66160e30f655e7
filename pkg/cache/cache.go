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

// Package cache provides the optional key/value cache used by the retrieval
// pipeline for embeddings, rerank results, and rate-limit counters.
//
// The default implementation is a no-op; the redis implementation downgrades
// silently when the server is unavailable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache is the key/value contract.
//
// Implementations must be safe for concurrent use. A miss is reported as
// (nil, false, nil); errors are reserved for transport failures.
type Cache interface {
	// Get returns the value for key, or found=false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key with a TTL. A zero TTL uses the
	// implementation default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// MGet returns values for keys in order; missing entries are nil.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// MSet stores multiple entries with one TTL.
	MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error

	// Incr atomically increments a counter, setting ttl on first write.
	// Used by the cache-backed rate limiter.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Flush removes all entries (admin surface).
	Flush(ctx context.Context) error

	// Stats reports hit/miss counters since process start.
	Stats() Statistics

	// HealthCheck reports reachability.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Statistics holds cache hit/miss counters.
type Statistics struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns hits/(hits+misses), 1.0 when idle.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 1.0
	}
	return float64(s.Hits) / float64(total)
}

// Key builds a namespaced cache key from the SHA-256 of its parts.
func Key(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return namespace + ":" + hex.EncodeToString(h[:])
}

// Noop is a cache that stores nothing. Every Get is a miss.
type Noop struct{}

// NewNoop creates a no-op cache.
func NewNoop() *Noop { return &Noop{} }

func (Noop) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error { return nil }

func (Noop) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	return make([][]byte, len(keys)), nil
}

func (Noop) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	return nil
}

func (Noop) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) { return 0, nil }

func (Noop) Flush(ctx context.Context) error { return nil }

func (Noop) Stats() Statistics { return Statistics{} }

func (Noop) HealthCheck(ctx context.Context) error { return nil }

func (Noop) Close() error { return nil }

// Ensure interface compliance at compile time.
var (
	_ Cache = (*Noop)(nil)
	_ Cache = (*Redis)(nil)
)
