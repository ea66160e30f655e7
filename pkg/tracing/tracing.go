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

// Package tracing records per-request pipeline traces.
//
// A trace is created per query, carried through the pipeline via context,
// and persisted at the end. Sampled-out traces have an empty id and every
// operation on them is a no-op. Persistence failures are logged, never
// propagated; observability must not break requests.
package tracing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/logger"
	"github.com/kadirpekel/docrag/pkg/store"
)

// Span names. The set is fixed so dashboard aggregation can group by name.
const (
	SpanQueryAnalysis      = "query_analysis"
	SpanEmbedding          = "embedding_generation"
	SpanVectorSearch       = "vector_search"
	SpanGraphTraversal     = "graph_traversal"
	SpanReranking          = "reranking"
	SpanContextCompression = "context_compression"
	SpanLLMGeneration      = "llm_generation"
	SpanGuardrailsInput    = "guardrails_input"
	SpanGuardrailsOutput   = "guardrails_output"
)

// Span statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Span is one timed pipeline step.
type Span struct {
	Name       string            `json:"name"`
	StartedAt  time.Time         `json:"startedAt"`
	DurationMs int64             `json:"durationMs"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	trace *Trace
	done  bool
}

// Trace accumulates one request's spans and outcome. All methods are safe on
// a nil receiver, so sampled-out requests cost nothing.
type Trace struct {
	mu sync.Mutex

	id        string
	userHash  string
	sessionID string
	queryLen  int
	startedAt time.Time

	queryType    string
	strategy     string
	tokensUsed   int
	retrieved    int
	used         int
	groundedness *float64
	success      bool
	spans        []*Span
}

// Tracer creates and persists traces.
type Tracer struct {
	enabled    bool
	persist    bool
	sampleRate float64
	store      *store.Store
	logger     *slog.Logger

	// sample is swappable in tests.
	sample func() bool
}

// New creates a tracer. store may be nil when persistence is disabled.
func New(cfg config.TraceConfig, st *store.Store) *Tracer {
	t := &Tracer{
		enabled:    cfg.Enabled,
		persist:    cfg.Persist && st != nil,
		sampleRate: cfg.SampleRate,
		store:      st,
		logger:     logger.Get().With("component", "tracing"),
	}
	t.sample = func() bool { return rand.Float64() < t.sampleRate }
	return t
}

// Start begins a trace for one query. Returns nil when tracing is disabled
// or the request is sampled out; nil traces are safe to use.
func (t *Tracer) Start(query, userID, sessionID string) *Trace {
	if !t.enabled || !t.sample() {
		return nil
	}
	return &Trace{
		id:        uuid.NewString(),
		userHash:  HashUserID(userID),
		sessionID: sessionID,
		queryLen:  len(query),
		startedAt: time.Now(),
		success:   true,
	}
}

// End closes the trace and persists it. Open spans are closed with an error
// status; a step that never ended did not finish cleanly.
func (t *Tracer) End(ctx context.Context, tr *Trace) {
	if tr == nil {
		return
	}

	tr.mu.Lock()
	now := time.Now()
	for _, s := range tr.spans {
		if !s.done {
			s.done = true
			s.Status = StatusError
			s.DurationMs = now.Sub(s.StartedAt).Milliseconds()
		}
	}
	rec := tr.recordLocked(now)
	tr.mu.Unlock()

	if !t.persist {
		return
	}
	if err := t.store.InsertTrace(ctx, rec); err != nil {
		t.logger.Warn("trace persistence failed", "trace_id", rec.TraceID, "error", err)
	}
}

// ID returns the trace id, empty for nil traces.
func (tr *Trace) ID() string {
	if tr == nil {
		return ""
	}
	return tr.id
}

// StartSpan opens a named span. End it exactly once.
func (tr *Trace) StartSpan(name string) *Span {
	if tr == nil {
		return nil
	}
	s := &Span{Name: name, StartedAt: time.Now(), Status: StatusOK, trace: tr}
	tr.mu.Lock()
	tr.spans = append(tr.spans, s)
	tr.mu.Unlock()
	return s
}

// End closes the span.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.trace.mu.Lock()
	defer s.trace.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.DurationMs = time.Since(s.StartedAt).Milliseconds()
}

// EndWithError closes the span with an error status.
func (s *Span) EndWithError(err error) {
	if s == nil {
		return
	}
	s.Annotate("error", err.Error())
	s.trace.mu.Lock()
	s.Status = StatusError
	s.trace.mu.Unlock()
	s.End()
}

// Annotate attaches a metadata entry to the span.
func (s *Span) Annotate(key, value string) {
	if s == nil {
		return
	}
	s.trace.mu.Lock()
	defer s.trace.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	s.Metadata[key] = value
}

// SetRouting records the router verdict.
func (tr *Trace) SetRouting(queryType, strategy string) {
	if tr == nil {
		return
	}
	tr.mu.Lock()
	tr.queryType, tr.strategy = queryType, strategy
	tr.mu.Unlock()
}

// SetRetrieval records chunk counts.
func (tr *Trace) SetRetrieval(retrieved, used int) {
	if tr == nil {
		return
	}
	tr.mu.Lock()
	tr.retrieved, tr.used = retrieved, used
	tr.mu.Unlock()
}

// SetTokens records token usage.
func (tr *Trace) SetTokens(total int) {
	if tr == nil {
		return
	}
	tr.mu.Lock()
	tr.tokensUsed = total
	tr.mu.Unlock()
}

// SetGroundedness records the output guardrail score.
func (tr *Trace) SetGroundedness(g float64) {
	if tr == nil {
		return
	}
	tr.mu.Lock()
	tr.groundedness = &g
	tr.mu.Unlock()
}

// Succeeded reports the outcome recorded so far. Nil traces report success.
func (tr *Trace) Succeeded() bool {
	if tr == nil {
		return true
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.success
}

// SetFailed marks the trace unsuccessful.
func (tr *Trace) SetFailed() {
	if tr == nil {
		return
	}
	tr.mu.Lock()
	tr.success = false
	tr.mu.Unlock()
}

func (tr *Trace) recordLocked(now time.Time) *store.TraceRecord {
	spans, err := json.Marshal(tr.spans)
	if err != nil {
		spans = []byte("[]")
	}
	return &store.TraceRecord{
		TraceID:           tr.id,
		Timestamp:         tr.startedAt,
		UserIDHash:        tr.userHash,
		SessionID:         tr.sessionID,
		QueryLength:       tr.queryLen,
		QueryType:         tr.queryType,
		RetrievalStrategy: tr.strategy,
		Success:           tr.success,
		TotalLatencyMs:    now.Sub(tr.startedAt).Milliseconds(),
		TokensUsed:        tr.tokensUsed,
		ChunksRetrieved:   tr.retrieved,
		ChunksUsed:        tr.used,
		Groundedness:      tr.groundedness,
		Spans:             spans,
	}
}

// HashUserID pseudonymizes a user id for storage: the first 16 hex digits
// of its SHA-256.
func HashUserID(userID string) string {
	h := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(h[:])[:16]
}

type ctxKey struct{}

// WithTrace attaches the trace to the context.
func WithTrace(ctx context.Context, tr *Trace) context.Context {
	return context.WithValue(ctx, ctxKey{}, tr)
}

// FromContext returns the context's trace, nil if absent or sampled out.
func FromContext(ctx context.Context) *Trace {
	tr, _ := ctx.Value(ctxKey{}).(*Trace)
	return tr
}
