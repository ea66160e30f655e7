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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisWithClient(client, time.Minute), mr
}

func TestRedisSetGet(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 0))

	val, found, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), val)

	_, found, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, found)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisMGetPreservesOrder(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.MSet(ctx, map[string][]byte{
		"a": []byte("1"),
		"c": []byte("3"),
	}, 0))

	vals, err := c.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, []byte("1"), vals[0])
	assert.Nil(t, vals[1])
	assert.Equal(t, []byte("3"), vals[2])
}

func TestRedisIncrSetsTTLOnFirstWrite(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	n, err := c.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Greater(t, mr.TTL("counter"), time.Duration(0))
}

func TestRedisDegradesWhenDown(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()
	mr.Close()

	// Failures surface as misses, not errors.
	val, found, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	assert.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	assert.Error(t, c.HealthCheck(ctx))
}

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("emb", "query text", "model-a")
	k2 := Key("emb", "query text", "model-a")
	k3 := Key("emb", "query text", "model-b")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "emb:")
	// SHA-256 hex digest after the namespace prefix.
	assert.Len(t, k1, len("emb:")+64)
}

func TestNoopAlwaysMisses(t *testing.T) {
	c := NewNoop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	vals, err := c.MGet(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vals, 2)
	assert.Equal(t, 1.0, c.Stats().HitRate())
}
