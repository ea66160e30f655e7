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

// Package llms provides the chat-model adapter.
package llms

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune one generation call. Zero values fall back to the adapter's
// configured defaults. TopK is honored by Ollama-style backends and ignored
// by upstream OpenAI.
type Options struct {
	Model       string
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
	Stop        []string
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompleteResponse is the result of a batch generation call, and the final
// metadata of a streaming one.
type CompleteResponse struct {
	Content  string        `json:"content"`
	Model    string        `json:"model"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"-"`
}

// StreamChunk is one element of a token stream. Exactly one terminal chunk
// is sent: either Final is set (success) or Err is set. The channel closes
// after the terminal chunk.
type StreamChunk struct {
	Token string
	Final *CompleteResponse
	Err   error
}

// LLM is the chat contract consumed by the pipeline.
type LLM interface {
	// Chat runs one batch generation call.
	Chat(ctx context.Context, messages []Message, opts Options) (*CompleteResponse, error)

	// ChatStream runs one streaming call. Tokens arrive in model order.
	// Cancelling ctx aborts the upstream call and terminates the stream.
	ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)

	// Model returns the default generation model.
	Model() string

	// HealthCheck reports reachability.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}
