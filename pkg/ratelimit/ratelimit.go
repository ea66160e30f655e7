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

// Package ratelimit bounds per-user query rates over a one-minute window.
//
// Two implementations: an in-memory limiter for single-process deployments
// and a cache-backed limiter whose counters are shared across workers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/kadirpekel/docrag/pkg/cache"
)

// Limiter is the per-user rate limiting contract.
//
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow records one request for userID and reports whether it is
	// within the limit.
	Allow(ctx context.Context, userID string) (bool, error)

	// Reset clears the counter for userID.
	Reset(ctx context.Context, userID string) error
}

const window = time.Minute

// Memory is a fixed-window in-memory limiter.
type Memory struct {
	limit int

	mu      sync.Mutex
	counts  map[string]int64
	windows map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an in-memory limiter allowing limit requests per minute.
func NewMemory(limit int) *Memory {
	return &Memory{
		limit:   limit,
		counts:  make(map[string]int64),
		windows: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Allow records one request and reports whether it is within the limit.
func (m *Memory) Allow(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if end, ok := m.windows[userID]; !ok || end.Before(now) {
		m.windows[userID] = now.Add(window)
		m.counts[userID] = 0
	}

	m.counts[userID]++
	return m.counts[userID] <= int64(m.limit), nil
}

// Reset clears the counter for userID.
func (m *Memory) Reset(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.counts, userID)
	delete(m.windows, userID)
	return nil
}

// Sweep removes expired windows. Call periodically on long-running
// processes.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for user, end := range m.windows {
		if end.Before(now) {
			delete(m.windows, user)
			delete(m.counts, user)
		}
	}
}

// Cached is a cache-backed limiter whose counters are shared across workers.
//
// When the cache is unreachable the limiter fails open: blocking all traffic
// on a cache outage would be worse than briefly losing the limit.
type Cached struct {
	cache cache.Cache
	limit int
}

// NewCached creates a cache-backed limiter allowing limit requests per
// minute.
func NewCached(c cache.Cache, limit int) *Cached {
	return &Cached{cache: c, limit: limit}
}

// Allow increments the shared counter and reports whether it is within the
// limit.
func (c *Cached) Allow(ctx context.Context, userID string) (bool, error) {
	count, err := c.cache.Incr(ctx, cache.Key("rate", userID), window)
	if err != nil {
		return true, nil
	}
	// The no-op cache reports zero; treat it as unlimited.
	if count == 0 {
		return true, nil
	}
	return count <= int64(c.limit), nil
}

// Reset clears the shared counter for userID.
func (c *Cached) Reset(ctx context.Context, userID string) error {
	return c.cache.Set(ctx, cache.Key("rate", userID), []byte("0"), window)
}

var (
	_ Limiter = (*Memory)(nil)
	_ Limiter = (*Cached)(nil)
)
