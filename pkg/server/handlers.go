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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kadirpekel/docrag/pkg/errors"
	"github.com/kadirpekel/docrag/pkg/llms"
	"github.com/kadirpekel/docrag/pkg/pipeline"
	"github.com/kadirpekel/docrag/pkg/retrieval"
	"github.com/kadirpekel/docrag/pkg/store"
	"github.com/kadirpekel/docrag/pkg/vector"
)

type chatRequest struct {
	Model     string         `json:"model,omitempty"`
	Messages  []llms.Message `json:"messages"`
	SessionID string         `json:"sessionId,omitempty"`

	// Stream defaults to true; set false for a single JSON answer.
	Stream  *bool        `json:"stream,omitempty"`
	Options *chatOptions `json:"options,omitempty"`
	RAG     *chatRAG     `json:"rag,omitempty"`
}

type chatOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"topP,omitempty"`
	TopK        int      `json:"topK,omitempty"`
	NumPredict  int      `json:"numPredict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRAG struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	Query           string   `json:"query,omitempty"`
	SearchLimit     int      `json:"searchLimit,omitempty"`
	SearchThreshold *float64 `json:"searchThreshold,omitempty"`
	HybridAlpha     *float64 `json:"hybridAlpha,omitempty"`
	Rerank          *bool    `json:"rerank,omitempty"`
	UseGraph        *bool    `json:"useGraph,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatMetadata is everything about the answer except its text.
type chatMetadata struct {
	Sources      []vector.SearchHit `json:"sources,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
	Errors       []string           `json:"errors,omitempty"`
	TraceID      string             `json:"traceId,omitempty"`
	QueryType    string             `json:"queryType,omitempty"`
	Strategy     string             `json:"strategy,omitempty"`
	Groundedness float64            `json:"groundedness"`
	Rejected     bool               `json:"rejected,omitempty"`
	RateLimited  bool               `json:"rateLimited"`
	LatencyMs    int64              `json:"latencyMs"`
	TokensUsed   int                `json:"tokensUsed"`
}

type chatResponse struct {
	Message  chatMessage  `json:"message"`
	Done     bool         `json:"done"`
	Metadata chatMetadata `json:"metadata"`
}

// streamChunk is one SSE payload: a token chunk carries Message with
// done=false, the terminal chunk carries Metadata with done=true.
type streamChunk struct {
	Message  *streamMessage `json:"message,omitempty"`
	Done     bool           `json:"done"`
	Metadata *chatMetadata  `json:"metadata,omitempty"`
}

type streamMessage struct {
	Content string `json:"content"`
}

func metadataFrom(ans *pipeline.Answer) chatMetadata {
	return chatMetadata{
		Sources:      ans.Sources,
		Warnings:     ans.Warnings,
		Errors:       ans.Errors,
		TraceID:      ans.TraceID,
		QueryType:    ans.QueryType,
		Strategy:     ans.Strategy,
		Groundedness: ans.Groundedness,
		Rejected:     ans.Rejected,
		RateLimited:  ans.RateLimited,
		LatencyMs:    ans.LatencyMs,
		TokensUsed:   ans.TokensUsed,
	}
}

// pipelineRequest maps the wire body onto a pipeline request. The query is
// the last user message; earlier messages become history.
func pipelineRequest(body chatRequest, user store.UserContext) (pipeline.Request, error) {
	last := -1
	for i := len(body.Messages) - 1; i >= 0; i-- {
		if body.Messages[i].Role == llms.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		return pipeline.Request{}, errors.New(errors.KindValidation, "messages must contain a user message")
	}

	req := pipeline.Request{
		Query:     body.Messages[last].Content,
		SessionID: body.SessionID,
		User:      user,
		History:   body.Messages[:last],
		Options:   llms.Options{Model: body.Model},
	}

	if o := body.Options; o != nil {
		req.Options.Temperature = o.Temperature
		req.Options.TopP = o.TopP
		req.Options.TopK = o.TopK
		req.Options.MaxTokens = o.NumPredict
		req.Options.Stop = o.Stop
	}

	if rag := body.RAG; rag != nil {
		if rag.Enabled != nil && !*rag.Enabled {
			req.SkipRetrieval = true
		}
		if rag.Query != "" {
			req.Query = rag.Query
		}
		req.Retrieval = retrieval.Overrides{
			SearchLimit:     rag.SearchLimit,
			SearchThreshold: rag.SearchThreshold,
			HybridAlpha:     rag.HybridAlpha,
			Rerank:          rag.Rerank,
			UseGraph:        rag.UseGraph,
		}
	}
	return req, nil
}

// handleChat answers a query, streaming by default. Client disconnects
// cancel the pipeline via the request context.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.opts.Chat == nil {
		s.unavailable(w, r, "chat")
		return
	}

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, errors.Wrap(errors.KindValidation, "invalid request body", err))
		return
	}

	user := userFromRequest(r)
	if user.UserID == "" {
		s.writeError(w, r, errors.New(errors.KindUnauthorized, "missing X-User-ID header"))
		return
	}

	req, err := pipelineRequest(body, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if body.Stream != nil && !*body.Stream {
		ans, err := s.opts.Chat.Ask(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, chatResponse{
			Message:  chatMessage{Role: llms.RoleAssistant, Content: ans.Text},
			Done:     true,
			Metadata: metadataFrom(ans),
		})
		return
	}

	events, err := s.opts.Chat.AskStream(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamSSE(w, r, events)
}

// streamSSE writes the event stream: token chunks, one terminal chunk with
// the answer metadata, then the [DONE] sentinel. A failure closes the stream
// with a final error payload instead.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, events <-chan pipeline.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.New(errors.KindInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeEvent := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for ev := range events {
		select {
		case <-r.Context().Done():
			// Client gone; the pipeline sees the same cancellation.
			return
		default:
		}

		switch {
		case ev.Err != nil:
			writeEvent(map[string]string{"error": ev.Err.Error()})
			return
		case ev.Answer != nil:
			meta := metadataFrom(ev.Answer)
			writeEvent(streamChunk{Done: true, Metadata: &meta})
		default:
			writeEvent(streamChunk{Message: &streamMessage{Content: ev.Token}})
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		s.unavailable(w, r, "health")
		return
	}

	report := s.opts.Health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

// handleModels lists the configured models, filtered by the optional search
// substring and model family (the name up to the first colon).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	family := strings.ToLower(r.URL.Query().Get("family"))

	models := make([]string, 0, len(s.opts.Models))
	for _, m := range s.opts.Models {
		name := strings.ToLower(m)
		if search != "" && !strings.Contains(name, search) {
			continue
		}
		if family != "" && strings.SplitN(name, ":", 2)[0] != family {
			continue
		}
		models = append(models, m)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"models":       models,
		"defaultModel": s.opts.ModelName,
		"totalCount":   len(models),
	})
}
