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

// Package pipeline orchestrates one query end to end: input guardrail,
// routing, retrieval, prompt composition, generation, output guardrail.
//
// The trace travels via context so that retrieval records its spans on the
// same trace; it is ended exactly once, here.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/kadirpekel/docrag/pkg/compose"
	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/errors"
	"github.com/kadirpekel/docrag/pkg/guardrails"
	"github.com/kadirpekel/docrag/pkg/llms"
	"github.com/kadirpekel/docrag/pkg/logger"
	"github.com/kadirpekel/docrag/pkg/observability"
	"github.com/kadirpekel/docrag/pkg/retrieval"
	"github.com/kadirpekel/docrag/pkg/router"
	"github.com/kadirpekel/docrag/pkg/store"
	"github.com/kadirpekel/docrag/pkg/tracing"
	"github.com/kadirpekel/docrag/pkg/vector"
)

// RejectedQueryAnswer is returned verbatim when the input guardrail rejects
// a query. No detail leaks about which rule fired.
const RejectedQueryAnswer = "Ihre Anfrage konnte nicht verarbeitet werden. Bitte formulieren Sie Ihre Frage neu."

// Request is one chat invocation.
type Request struct {
	Query     string
	SessionID string
	User      store.UserContext
	History   []llms.Message

	// Options tune the generation call; zero values use the adapter defaults.
	Options llms.Options

	// Retrieval layers per-request tuning over the configured defaults.
	Retrieval retrieval.Overrides

	// SkipRetrieval answers from the model alone, without document context.
	SkipRetrieval bool
}

// Answer is the pipeline's final product. Errors carries machine-readable
// guardrail tokens when the query was rejected.
type Answer struct {
	Text         string             `json:"text"`
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

// Retriever is the retrieval engine surface the pipeline needs.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Pipeline wires the query path. metrics may be a no-op recorder; tracer
// decides per request whether to trace.
type Pipeline struct {
	input     *guardrails.Input
	output    *guardrails.Output
	router    *router.Router
	retriever Retriever
	composer  *compose.Composer
	llm       llms.LLM
	tracer    *tracing.Tracer
	metrics   *observability.Metrics
	cfg       config.Config
	logger    *slog.Logger
}

// New assembles the pipeline.
func New(input *guardrails.Input, output *guardrails.Output, r *router.Router,
	retriever Retriever, composer *compose.Composer, llm llms.LLM,
	tracer *tracing.Tracer, metrics *observability.Metrics, cfg config.Config) *Pipeline {
	return &Pipeline{
		input:     input,
		output:    output,
		router:    r,
		retriever: retriever,
		composer:  composer,
		llm:       llm,
		tracer:    tracer,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.Get().With("component", "pipeline"),
	}
}

// Ask answers one query synchronously.
func (p *Pipeline) Ask(ctx context.Context, req Request) (*Answer, error) {
	started := time.Now()

	tr := p.tracer.Start(req.Query, req.User.UserID, req.SessionID)
	ctx = tracing.WithTrace(ctx, tr)
	defer p.tracer.End(context.WithoutCancel(ctx), tr)

	ans, analysis, err := p.run(ctx, tr, req)
	if err != nil {
		tr.SetFailed()
	}

	latency := time.Since(started)
	p.metrics.RecordQuery(ctx, analysis.QueryType, analysis.Strategy, latency, sourceCount(ans), err)
	if err != nil {
		return nil, err
	}

	ans.QueryType = analysis.QueryType
	ans.Strategy = analysis.Strategy
	ans.LatencyMs = latency.Milliseconds()
	ans.TraceID = tr.ID()
	return ans, nil
}

// run executes everything up to and including the output guardrail. The
// returned analysis is valid even on error paths that got past routing.
func (p *Pipeline) run(ctx context.Context, tr *tracing.Trace, req Request) (*Answer, router.QueryAnalysis, error) {
	var analysis router.QueryAnalysis

	sanitized, rejected, err := p.checkInput(ctx, tr, req)
	if err != nil {
		return nil, analysis, err
	}
	if rejected != nil {
		return rejected, analysis, nil
	}

	span := tr.StartSpan(tracing.SpanQueryAnalysis)
	analysis = p.router.Analyze(sanitized)
	span.Annotate("query_type", analysis.QueryType)
	span.Annotate("strategy", analysis.Strategy)
	span.End()
	tr.SetRouting(analysis.QueryType, analysis.Strategy)

	retrieved := &retrieval.Result{}
	if !req.SkipRetrieval {
		retrieved, err = p.retriever.Retrieve(ctx, retrieval.Request{
			Query:     sanitized,
			User:      req.User,
			Analysis:  analysis,
			Overrides: req.Retrieval,
		})
		if err != nil {
			return nil, analysis, err
		}
		tr.SetRetrieval(len(retrieved.Hits), len(retrieved.Hits))

		if retrieved.NoAccessibleDocuments || (len(retrieved.Hits) == 0 && retrieved.GraphContext == "") {
			// The request produced no answer from context; the trace records
			// it as a failure even though the transport returns 200.
			tr.SetFailed()
			return &Answer{
				Text:         compose.InsufficientContextAnswer,
				Warnings:     retrieved.Warnings,
				Groundedness: 1.0,
			}, analysis, nil
		}
	}

	retrievedCtx := compose.Context{Hits: retrieved.Hits, GraphContext: retrieved.GraphContext}
	messages := p.composer.Messages(sanitized, req.History, retrievedCtx)

	resp, err := p.generate(ctx, tr, messages, req.Options)
	if err != nil {
		return nil, analysis, err
	}
	tr.SetTokens(resp.Usage.TotalTokens)

	ans := p.checkOutput(tr, resp.Content, retrievedCtx)
	ans.Sources = retrieved.Hits
	ans.Warnings = append(retrieved.Warnings, ans.Warnings...)
	ans.TokensUsed = resp.Usage.TotalTokens
	return ans, analysis, nil
}

// checkInput runs the input guardrail. A non-nil rejected answer means the
// query must not reach retrieval.
func (p *Pipeline) checkInput(ctx context.Context, tr *tracing.Trace, req Request) (string, *Answer, error) {
	span := tr.StartSpan(tracing.SpanGuardrailsInput)

	res, err := p.input.Validate(ctx, req.User.UserID, req.Query)
	if err != nil {
		span.EndWithError(err)
		return "", nil, errors.Wrap(errors.KindInternal, "input guardrail failed", err)
	}
	if res.RateLimited {
		span.Annotate("rate_limited", "true")
		span.End()
		return "", nil, errors.New(errors.KindRateLimited, "query rate limit exceeded")
	}
	if !res.Valid {
		span.Annotate("rejected", "true")
		span.End()
		tr.SetFailed()
		p.logger.Info("query rejected by input guardrail", "user_id_hash", tracing.HashUserID(req.User.UserID))
		return "", &Answer{Text: RejectedQueryAnswer, Rejected: true, Errors: res.Errors}, nil
	}

	span.End()
	return res.SanitizedQuery, nil, nil
}

func (p *Pipeline) generate(ctx context.Context, tr *tracing.Trace, messages []llms.Message, opts llms.Options) (*llms.CompleteResponse, error) {
	span := tr.StartSpan(tracing.SpanLLMGeneration)
	started := time.Now()

	resp, err := p.llm.Chat(ctx, messages, opts)

	duration := time.Since(started)
	var in, out int
	if resp != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	p.metrics.RecordLLMCall(ctx, p.llm.Model(), duration, in, out, err)

	if err != nil {
		span.EndWithError(err)
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.KindCancelled, "generation cancelled", ctx.Err())
		}
		return nil, errors.Wrap(errors.KindAdapterError, "generation failed", err)
	}

	span.Annotate("model", resp.Model)
	span.Annotate("tokens", strconv.Itoa(resp.Usage.TotalTokens))
	span.End()
	return resp, nil
}

// checkOutput runs the output guardrail and folds its verdict into the
// answer. An invalid verdict never suppresses the response; it only adds
// warnings.
func (p *Pipeline) checkOutput(tr *tracing.Trace, answer string, retrievedCtx compose.Context) *Answer {
	span := tr.StartSpan(tracing.SpanGuardrailsOutput)

	res := p.output.Check(answer, compose.ContextText(retrievedCtx))
	tr.SetGroundedness(res.Groundedness)

	span.Annotate("groundedness", strconv.FormatFloat(res.Groundedness, 'f', 2, 64))
	if !res.Valid {
		span.Annotate("valid", "false")
	}
	span.End()

	return &Answer{
		Text:         res.FinalResponse,
		Warnings:     res.Warnings,
		Groundedness: res.Groundedness,
	}
}

func sourceCount(ans *Answer) int {
	if ans == nil {
		return 0
	}
	return len(ans.Sources)
}
