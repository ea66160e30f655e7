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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/cache"
	"github.com/kadirpekel/docrag/pkg/errors"
	"github.com/kadirpekel/docrag/pkg/evaluation"
	"github.com/kadirpekel/docrag/pkg/pipeline"
)

type fakeChat struct {
	answer  *pipeline.Answer
	events  []pipeline.Event
	err     error
	lastReq pipeline.Request
}

func (f *fakeChat) Ask(_ context.Context, req pipeline.Request) (*pipeline.Answer, error) {
	f.lastReq = req
	return f.answer, f.err
}

func (f *fakeChat) AskStream(_ context.Context, req pipeline.Request) (<-chan pipeline.Event, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan pipeline.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

type fakeEval struct {
	runID string
	cmp   *evaluation.Comparison

	lastVersion  string
	lastCategory string
}

func (f *fakeEval) Start(_ context.Context, version, category string, _ json.RawMessage) (string, error) {
	f.lastVersion = version
	f.lastCategory = category
	return f.runID, nil
}

func (f *fakeEval) Compare(_ context.Context, _, _ string) (*evaluation.Comparison, error) {
	return f.cmp, nil
}

type checker struct{ err error }

func (c checker) HealthCheck(_ context.Context) error { return c.err }

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	opts.Config.SetDefaults()
	opts.Config.Database.DSN = "postgres://test"
	if opts.ModelName == "" {
		opts.ModelName = "llama3.1:8b"
	}

	ts := httptest.NewServer(New(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, userID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Role", "employee")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

const askBody = `{"messages":[{"role":"user","content":"Wie viele Urlaubstage?"}]}`

func TestChatRequiresIdentity(t *testing.T) {
	ts := newTestServer(t, Options{Chat: &fakeChat{}})

	resp := postJSON(t, ts.URL+"/chat", "", askBody)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatJSONMode(t *testing.T) {
	chat := &fakeChat{answer: &pipeline.Answer{Text: "30 Urlaubstage.", Groundedness: 0.9, TraceID: "t1"}}
	ts := newTestServer(t, Options{Chat: chat})

	resp := postJSON(t, ts.URL+"/chat", "u1",
		`{"messages":[{"role":"user","content":"Wie viele Urlaubstage?"}],"stream":false}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body chatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "assistant", body.Message.Role)
	assert.Equal(t, "30 Urlaubstage.", body.Message.Content)
	assert.True(t, body.Done)
	assert.Equal(t, 0.9, body.Metadata.Groundedness)
	assert.Equal(t, "t1", body.Metadata.TraceID)

	assert.Equal(t, "Wie viele Urlaubstage?", chat.lastReq.Query)
	assert.Equal(t, "u1", chat.lastReq.User.UserID)
	assert.Equal(t, "employee", chat.lastReq.User.Role)
}

func TestChatMessageExtraction(t *testing.T) {
	chat := &fakeChat{answer: &pipeline.Answer{Text: "ok"}}
	ts := newTestServer(t, Options{Chat: chat})

	resp := postJSON(t, ts.URL+"/chat", "u1", `{
		"model": "mistral:7b",
		"messages": [
			{"role":"system","content":"Sei knapp."},
			{"role":"user","content":"Erste Frage?"},
			{"role":"assistant","content":"Erste Antwort."},
			{"role":"user","content":"Zweite Frage?"}
		],
		"stream": false,
		"options": {"temperature":0.2,"topP":0.9,"topK":40,"numPredict":256,"stop":["\n\n"]}
	}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The query is the last user message; everything before it is history.
	assert.Equal(t, "Zweite Frage?", chat.lastReq.Query)
	require.Len(t, chat.lastReq.History, 3)
	assert.Equal(t, "Erste Antwort.", chat.lastReq.History[2].Content)

	assert.Equal(t, "mistral:7b", chat.lastReq.Options.Model)
	assert.Equal(t, 0.2, chat.lastReq.Options.Temperature)
	assert.Equal(t, 0.9, chat.lastReq.Options.TopP)
	assert.Equal(t, 40, chat.lastReq.Options.TopK)
	assert.Equal(t, 256, chat.lastReq.Options.MaxTokens)
	assert.Equal(t, []string{"\n\n"}, chat.lastReq.Options.Stop)
}

func TestChatRequiresUserMessage(t *testing.T) {
	ts := newTestServer(t, Options{Chat: &fakeChat{}})

	resp := postJSON(t, ts.URL+"/chat", "u1", `{"messages":[{"role":"system","content":"nur system"}]}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatRAGOverrides(t *testing.T) {
	chat := &fakeChat{answer: &pipeline.Answer{Text: "ok"}}
	ts := newTestServer(t, Options{Chat: chat})

	resp := postJSON(t, ts.URL+"/chat", "u1",
		`{"messages":[{"role":"user","content":"Frage?"}],"stream":false,
		  "rag":{"enabled":true,"searchLimit":5,"hybridAlpha":0.3,"rerank":false}}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.False(t, chat.lastReq.SkipRetrieval)
	assert.Equal(t, 5, chat.lastReq.Retrieval.SearchLimit)
	require.NotNil(t, chat.lastReq.Retrieval.HybridAlpha)
	assert.Equal(t, 0.3, *chat.lastReq.Retrieval.HybridAlpha)
	require.NotNil(t, chat.lastReq.Retrieval.Rerank)
	assert.False(t, *chat.lastReq.Retrieval.Rerank)

	resp2 := postJSON(t, ts.URL+"/chat", "u1",
		`{"messages":[{"role":"user","content":"Frage?"}],"stream":false,"rag":{"enabled":false}}`)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.True(t, chat.lastReq.SkipRetrieval)
}

func TestChatSSE(t *testing.T) {
	chat := &fakeChat{events: []pipeline.Event{
		{Token: "30 "},
		{Token: "Urlaubstage."},
		{Answer: &pipeline.Answer{Text: "30 Urlaubstage.", Warnings: []string{"reranking unavailable, using hybrid order"}}},
	}}
	ts := newTestServer(t, Options{Chat: chat})

	resp := postJSON(t, ts.URL+"/chat", "u1", askBody)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body := readAll(t, resp)
	assert.Contains(t, body, `data: {"message":{"content":"30 "},"done":false}`)
	assert.Contains(t, body, `"done":true,"metadata"`)
	assert.Contains(t, body, "reranking unavailable")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestChatSSEErrorClosesStream(t *testing.T) {
	chat := &fakeChat{events: []pipeline.Event{
		{Token: "30 "},
		{Err: errors.New(errors.KindAdapterError, "generation failed")},
	}}
	ts := newTestServer(t, Options{Chat: chat})

	resp := postJSON(t, ts.URL+"/chat", "u1", askBody)
	defer resp.Body.Close()

	body := readAll(t, resp)
	assert.Contains(t, body, `data: {"error":"adapterError: generation failed"}`)
	assert.NotContains(t, body, "[DONE]")
}

func TestChatRateLimitedStatus(t *testing.T) {
	chat := &fakeChat{err: errors.New(errors.KindRateLimited, "query rate limit exceeded")}
	ts := newTestServer(t, Options{Chat: chat})

	resp := postJSON(t, ts.URL+"/chat", "u1",
		`{"messages":[{"role":"user","content":"q?"}],"stream":false}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, errors.KindRateLimited, body.Code)
	assert.Equal(t, "rateLimited", string(body.Code))
	assert.Equal(t, http.StatusTooManyRequests, body.StatusCode)
	assert.Equal(t, "/chat", body.Path)
	assert.Equal(t, http.MethodPost, body.Method)
	assert.False(t, body.Timestamp.IsZero())
}

func TestHealthEndpoint(t *testing.T) {
	h := pipeline.NewHealth()
	h.Register("llm", checker{})
	ts := newTestServer(t, Options{Health: h})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report pipeline.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.True(t, report.Healthy)
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	h := pipeline.NewHealth()
	h.Register("vector", checker{err: fmt.Errorf("unreachable")})
	ts := newTestServer(t, Options{Health: h})

	resp, err := http.Get(ts.URL + "/monitoring/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestModels(t *testing.T) {
	ts := newTestServer(t, Options{
		ModelName: "llama3.1:8b",
		Models:    []string{"llama3.1:8b", "llama3.1:70b", "mistral:7b"},
	})

	get := func(path string) (models []string, defaultModel string, total int) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Models       []string `json:"models"`
			DefaultModel string   `json:"defaultModel"`
			TotalCount   int      `json:"totalCount"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Models, body.DefaultModel, body.TotalCount
	}

	models, def, total := get("/models")
	assert.Len(t, models, 3)
	assert.Equal(t, "llama3.1:8b", def)
	assert.Equal(t, 3, total)

	models, _, total = get("/models?family=mistral")
	assert.Equal(t, []string{"mistral:7b"}, models)
	assert.Equal(t, 1, total)

	models, _, total = get("/models?search=70b")
	assert.Equal(t, []string{"llama3.1:70b"}, models)
	assert.Equal(t, 1, total)
}

func TestEvalRunStartsInBackground(t *testing.T) {
	eval := &fakeEval{runID: "r1"}
	ts := newTestServer(t, Options{Eval: eval})

	resp := postJSON(t, ts.URL+"/evaluation/run", "u1", `{"version":"v2"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "r1", body["runId"])
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, "v2", eval.lastVersion)
}

func TestEvalCompareValidation(t *testing.T) {
	ts := newTestServer(t, Options{Eval: &fakeEval{cmp: &evaluation.Comparison{}}})

	resp, err := http.Get(ts.URL + "/evaluation/compare?run1=r1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/evaluation/compare?run1=r1&run2=r2")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestUnconfiguredComponentsAnswer503(t *testing.T) {
	ts := newTestServer(t, Options{})

	paths := []string{
		"/monitoring/dashboard",
		"/monitoring/alerts",
		"/evaluation/runs",
		"/evaluation/golden-dataset",
	}
	for _, path := range paths {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestCacheStats(t *testing.T) {
	ts := newTestServer(t, Options{Cache: cache.NewNoop()})

	resp, err := http.Get(ts.URL + "/monitoring/cache")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		HitRate float64 `json:"hitRate"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1.0, body.HitRate)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return b.String()
}
