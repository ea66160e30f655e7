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

package llms

import (
	"bufio"
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

// OpenAI talks to an OpenAI-compatible chat completions API.
type OpenAI struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   float64        `json:"temperature,omitempty"`
	TopP          float64        `json:"top_p,omitempty"`
	TopK          int            `json:"top_k,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage"`
	Error *apiError `json:"error"`
}

type chatStreamResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage"`
	Error *apiError `json:"error"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAI creates the LLM adapter from config.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	return &OpenAI{
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (p *OpenAI) fillOptions(opts Options) Options {
	if opts.Model == "" {
		opts.Model = p.model
	}
	if opts.Temperature == 0 {
		opts.Temperature = p.temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = p.maxTokens
	}
	return opts
}

// Chat runs one batch generation call.
func (p *OpenAI) Chat(ctx context.Context, messages []Message, opts Options) (*CompleteResponse, error) {
	opts = p.fillOptions(opts)
	started := time.Now()

	resp, err := p.post(ctx, chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		TopK:        opts.TopK,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindAdapterError, "failed to read chat response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiStatusError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(errors.KindAdapterError, "failed to decode chat response", err)
	}
	if parsed.Error != nil {
		return nil, errors.Newf(errors.KindAdapterError, "llm error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New(errors.KindAdapterError, "llm returned no choices")
	}

	out := &CompleteResponse{
		Content:  parsed.Choices[0].Message.Content,
		Model:    parsed.Model,
		Duration: time.Since(started),
	}
	if parsed.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ChatStream runs one streaming call. The returned channel closes after a
// terminal chunk; cancelling ctx closes the upstream body.
func (p *OpenAI) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	opts = p.fillOptions(opts)
	started := time.Now()

	resp, err := p.post(ctx, chatRequest{
		Model:         opts.Model,
		Messages:      messages,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		TopK:          opts.TopK,
		MaxTokens:     opts.MaxTokens,
		Stop:          opts.Stop,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apiStatusError(resp.StatusCode, raw)
	}

	out := make(chan StreamChunk)
	go p.readStream(ctx, resp.Body, opts.Model, started, out)
	return out, nil
}

func (p *OpenAI) readStream(ctx context.Context, body io.ReadCloser, model string, started time.Time, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	// Closing the body on cancellation unblocks the reader below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-done:
		}
	}()

	final := &CompleteResponse{Model: model}
	var content bytes.Buffer
	reader := bufio.NewReader(body)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				out <- StreamChunk{Err: errors.Wrap(errors.KindCancelled, "stream cancelled", ctx.Err())}
				return
			}
			if err == io.EOF {
				break
			}
			out <- StreamChunk{Err: errors.Wrap(errors.KindAdapterError, "failed to read stream", err)}
			return
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk chatStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			out <- StreamChunk{Err: errors.Newf(errors.KindAdapterError, "llm error: %s", chunk.Error.Message)}
			return
		}
		if chunk.Usage != nil {
			final.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if chunk.Model != "" {
			final.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		content.WriteString(token)

		select {
		case out <- StreamChunk{Token: token}:
		case <-ctx.Done():
			out <- StreamChunk{Err: errors.Wrap(errors.KindCancelled, "stream cancelled", ctx.Err())}
			return
		}
	}

	final.Content = content.String()
	final.Duration = time.Since(started)
	out <- StreamChunk{Final: final}
}

func (p *OpenAI) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindCancelled, "chat call cancelled", ctx.Err())
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.Wrap(errors.KindAdapterTimeout, "chat call timed out", err)
		}
		return nil, errors.Wrap(errors.KindAdapterUnavailable, "chat call failed", err)
	}
	return resp, nil
}

func apiStatusError(status int, raw []byte) error {
	var parsed struct {
		Error *apiError `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
		return errors.Newf(errors.KindAdapterError, "llm error: %s", parsed.Error.Message)
	}
	return errors.Newf(errors.KindAdapterError, "llm returned status %d", status)
}

// Model returns the default generation model.
func (p *OpenAI) Model() string { return p.model }

// HealthCheck lists models with a short budget.
func (p *OpenAI) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm health returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases resources.
func (p *OpenAI) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ LLM = (*OpenAI)(nil)
