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

// Package rerank provides the cross-encoder reranker adapter.
//
// The reranker runs under a wall-clock budget; callers substitute identity
// ordering when it times out or fails.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/errors"
)

// Result is one reranked entry: the original index of the document in the
// request plus its relevance score. Results arrive in descending score order.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Reranker is the reranking contract consumed by the retrieval engine.
type Reranker interface {
	// Rerank scores documents against the query and returns the top K.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)

	// HealthCheck reports reachability.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// HTTP talks to a Cohere-style rerank API.
type HTTP struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewHTTP creates the reranker adapter from config.
func NewHTTP(cfg config.RerankerConfig) *HTTP {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	return &HTTP{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Rerank scores documents against the query under the wall-clock budget.
func (r *HTTP) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to marshal rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.KindAdapterTimeout, "rerank timed out", err)
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindCancelled, "rerank cancelled", ctx.Err())
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.Wrap(errors.KindAdapterTimeout, "rerank timed out", err)
		}
		return nil, errors.Wrap(errors.KindAdapterUnavailable, "rerank call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindAdapterError, "failed to read rerank response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.KindAdapterError, "reranker returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(errors.KindAdapterError, "failed to decode rerank response", err)
	}

	out := make([]Result, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			return nil, errors.Newf(errors.KindAdapterError, "reranker returned out-of-range index %d", item.Index)
		}
		out = append(out, Result{Index: item.Index, Score: item.RelevanceScore})
	}
	return out, nil
}

// HealthCheck reranks a trivial probe.
func (r *HTTP) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.Rerank(ctx, "ok", []string{"ok"}, 1); err != nil {
		return fmt.Errorf("reranker unhealthy: %w", err)
	}
	return nil
}

// Close releases resources.
func (r *HTTP) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

var _ Reranker = (*HTTP)(nil)
