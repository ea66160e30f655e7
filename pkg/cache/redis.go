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

package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/docrag/pkg/config"
)

// Redis is a redis-backed cache.
//
// Transport failures are logged and reported as misses so that the pipeline
// degrades instead of failing when the cache is down.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedis creates a redis cache from config.
func NewRedis(cfg config.CacheConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})

	return &Redis{
		client:     client,
		defaultTTL: time.Duration(cfg.DefaultTTLSeconds) * time.Second,
	}
}

// NewRedisWithClient wraps an existing client (used by tests with miniredis).
func NewRedisWithClient(client *redis.Client, defaultTTL time.Duration) *Redis {
	return &Redis{client: client, defaultTTL: defaultTTL}
}

func (c *Redis) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get returns the value for key, or found=false on a miss.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("Cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return val, true, nil
}

// Set stores value under key.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, c.ttlOrDefault(ttl)).Err(); err != nil {
		slog.Debug("Cache set failed", "key", key, "error", err)
	}
	return nil
}

// MGet returns values for keys in order; missing entries are nil.
func (c *Redis) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Debug("Cache mget failed", "keys", len(keys), "error", err)
		c.misses.Add(int64(len(keys)))
		return out, nil
	}

	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
		}
	}
	return out, nil
}

// MSet stores multiple entries with one TTL.
func (c *Redis) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	expiry := c.ttlOrDefault(ttl)
	for k, v := range entries {
		pipe.Set(ctx, k, v, expiry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("Cache mset failed", "entries", len(entries), "error", err)
	}
	return nil
}

// Incr atomically increments a counter, setting ttl on first write.
func (c *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 {
		c.client.Expire(ctx, key, c.ttlOrDefault(ttl))
	}
	return val, nil
}

// Flush removes all entries.
func (c *Redis) Flush(ctx context.Context) error {
	return c.client.FlushDB(ctx).Err()
}

// Stats reports hit/miss counters since process start.
func (c *Redis) Stats() Statistics {
	return Statistics{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// HealthCheck reports reachability.
func (c *Redis) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Redis) Close() error {
	return c.client.Close()
}
