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

package embedders

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

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/errors"
)

// OpenAI talks to an OpenAI-compatible embeddings API.
type OpenAI struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	batchSize int
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAI creates the embedder from config.
func NewOpenAI(cfg config.EmbedderConfig) *OpenAI {
	return &OpenAI{
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}
}

// Embed returns the embedding for one text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedCall(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New(errors.KindAdapterError, "embedding service returned no data")
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, fanning batches out concurrently up to
// the configured batch size.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := e.batchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			vecs, err := e.embedCall(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return errors.Newf(errors.KindAdapterError,
					"embedding count mismatch: sent %d, got %d", end-start, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAI) embedCall(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindCancelled, "embedding call cancelled", ctx.Err())
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.Wrap(errors.KindAdapterTimeout, "embedding call timed out", err)
		}
		return nil, errors.Wrap(errors.KindAdapterUnavailable, "embedding call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindAdapterError, "failed to read embed response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, errors.Newf(errors.KindAdapterError, "embedding service error: %s", apiErr.Error.Message)
		}
		return nil, errors.Newf(errors.KindAdapterError, "embedding service returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(errors.KindAdapterError, "failed to decode embed response", err)
	}

	// The API may return out of order; the index field restores input order.
	vecs := make([][]float32, len(parsed.Data))
	for _, item := range parsed.Data {
		if item.Index >= 0 && item.Index < len(vecs) {
			vecs[item.Index] = item.Embedding
		}
	}
	return vecs, nil
}

// Model returns the embedding model name.
func (e *OpenAI) Model() string { return e.model }

// Dimension returns the embedding vector size.
func (e *OpenAI) Dimension() int { return e.dimension }

// HealthCheck embeds a short probe text.
func (e *OpenAI) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := e.Embed(ctx, "ok"); err != nil {
		return fmt.Errorf("embedder unhealthy: %w", err)
	}
	return nil
}

// Close releases resources.
func (e *OpenAI) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
