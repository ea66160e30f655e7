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

func newTestLLM(baseURL string) *OpenAI {
	return NewOpenAI(config.LLMConfig{
		BaseURL:        baseURL,
		Model:          "test-model",
		TimeoutSeconds: 5,
		Temperature:    0.2,
		MaxTokens:      128,
	})
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		fmt.Fprint(w, `{"model":"test-model","choices":[{"message":{"content":"answer"}}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`)
	}))
	defer srv.Close()

	resp, err := newTestLLM(srv.URL).Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model overloaded"}}`)
	}))
	defer srv.Close()

	_, err := newTestLLM(srv.URL).Chat(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindAdapterError, errors.KindOf(err))
	assert.Contains(t, err.Error(), "model overloaded")
}

func streamingServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, tok := range tokens {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":3,\"total_tokens\":8}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestChatStreamOrderAndFinal(t *testing.T) {
	srv := streamingServer(t, []string{"Hel", "lo ", "there"})
	defer srv.Close()

	stream, err := newTestLLM(srv.URL).ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, Options{})
	require.NoError(t, err)

	var tokens []string
	var final *CompleteResponse
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		if chunk.Final != nil {
			final = chunk.Final
			continue
		}
		tokens = append(tokens, chunk.Token)
	}

	assert.Equal(t, []string{"Hel", "lo ", "there"}, tokens)
	require.NotNil(t, final)
	assert.Equal(t, "Hello there", final.Content)
	assert.Equal(t, 8, final.Usage.TotalTokens)
}

func TestChatStreamCancellation(t *testing.T) {
	blocker := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		flusher.Flush()
		<-blocker
	}))
	defer srv.Close()
	defer close(blocker)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := newTestLLM(srv.URL).ChatStream(ctx, nil, Options{})
	require.NoError(t, err)

	chunk := <-stream
	require.NoError(t, chunk.Err)
	assert.Equal(t, "first", chunk.Token)

	cancel()

	var terminal StreamChunk
	for c := range stream {
		terminal = c
	}
	require.Error(t, terminal.Err)
	assert.Equal(t, errors.KindCancelled, errors.KindOf(terminal.Err))
}

func TestChatStreamNoDeadlockOnSlowConsumer(t *testing.T) {
	srv := streamingServer(t, []string{"a", "b"})
	defer srv.Close()

	stream, err := newTestLLM(srv.URL).ChatStream(context.Background(), nil, Options{})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	count := 0
	for range stream {
		count++
	}
	// 2 tokens + 1 terminal chunk.
	assert.Equal(t, 3, count)
}
