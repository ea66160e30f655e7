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

package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/errors"
)

func TestRerankReturnsDescendingResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.TopN)
		assert.Len(t, req.Documents, 3)

		fmt.Fprint(w, `{"results":[{"index":2,"relevance_score":0.95},{"index":0,"relevance_score":0.4}]}`)
	}))
	defer srv.Close()

	r := NewHTTP(config.RerankerConfig{BaseURL: srv.URL, TimeoutMs: 2000})
	results, err := r.Rerank(context.Background(), "query", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Index)
	assert.Equal(t, 0, results[1].Index)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRerankTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	r := NewHTTP(config.RerankerConfig{BaseURL: srv.URL, TimeoutMs: 50})
	_, err := r.Rerank(context.Background(), "query", []string{"a"}, 1)
	require.Error(t, err)
	assert.Equal(t, errors.KindAdapterTimeout, errors.KindOf(err))
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"index":9,"relevance_score":0.9}]}`)
	}))
	defer srv.Close()

	r := NewHTTP(config.RerankerConfig{BaseURL: srv.URL, TimeoutMs: 2000})
	_, err := r.Rerank(context.Background(), "query", []string{"a", "b"}, 2)
	require.Error(t, err)
	assert.Equal(t, errors.KindAdapterError, errors.KindOf(err))
}

func TestRerankEmptyDocuments(t *testing.T) {
	r := NewHTTP(config.RerankerConfig{BaseURL: "http://unused", TimeoutMs: 100})
	results, err := r.Rerank(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}
