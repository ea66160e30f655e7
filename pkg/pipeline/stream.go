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

package pipeline

import (
	"context"
	"time"

	"github.com/kadirpekel/docrag/pkg/compose"
	"github.com/kadirpekel/docrag/pkg/errors"
	"github.com/kadirpekel/docrag/pkg/llms"
	"github.com/kadirpekel/docrag/pkg/retrieval"
	"github.com/kadirpekel/docrag/pkg/tracing"
)

// Event is one element of a streamed answer. Exactly one terminal event is
// sent: either Answer (success) or Err. The channel closes afterwards.
type Event struct {
	Token  string
	Answer *Answer
	Err    error
}

// AskStream answers one query as a token stream. Failures before generation
// starts are returned directly so the transport can still pick a status
// code; failures mid-stream arrive as a terminal Err event.
//
// The output guardrail runs on the assembled text after streaming, so
// redactions and truncation apply to the final answer only; already-streamed
// tokens cannot be recalled.
func (p *Pipeline) AskStream(ctx context.Context, req Request) (<-chan Event, error) {
	started := time.Now()

	tr := p.tracer.Start(req.Query, req.User.UserID, req.SessionID)
	ctx = tracing.WithTrace(ctx, tr)

	fail := func(err error) error {
		tr.SetFailed()
		p.metrics.RecordQuery(ctx, "", "", time.Since(started), 0, err)
		p.tracer.End(context.WithoutCancel(ctx), tr)
		return err
	}

	sanitized, rejected, err := p.checkInput(ctx, tr, req)
	if err != nil {
		return nil, fail(err)
	}
	if rejected != nil {
		return p.cannedStream(ctx, tr, started, rejected), nil
	}

	span := tr.StartSpan(tracing.SpanQueryAnalysis)
	analysis := p.router.Analyze(sanitized)
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
			return nil, fail(err)
		}
		tr.SetRetrieval(len(retrieved.Hits), len(retrieved.Hits))

		if retrieved.NoAccessibleDocuments || (len(retrieved.Hits) == 0 && retrieved.GraphContext == "") {
			tr.SetFailed()
			return p.cannedStream(ctx, tr, started, &Answer{
				Text:         compose.InsufficientContextAnswer,
				Warnings:     retrieved.Warnings,
				Groundedness: 1.0,
			}), nil
		}
	}

	retrievedCtx := compose.Context{Hits: retrieved.Hits, GraphContext: retrieved.GraphContext}
	messages := p.composer.Messages(sanitized, req.History, retrievedCtx)

	genSpan := tr.StartSpan(tracing.SpanLLMGeneration)
	genStarted := time.Now()
	stream, err := p.llm.ChatStream(ctx, messages, req.Options)
	if err != nil {
		genSpan.EndWithError(err)
		return nil, fail(errors.Wrap(errors.KindAdapterError, "generation failed", err))
	}

	out := make(chan Event)
	go p.pump(ctx, tr, started, genStarted, genSpan, analysis.QueryType, analysis.Strategy,
		retrieved, retrievedCtx, stream, out)
	return out, nil
}

func (p *Pipeline) pump(ctx context.Context, tr *tracing.Trace, started, genStarted time.Time,
	genSpan *tracing.Span, queryType, strategy string, retrieved *retrieval.Result,
	retrievedCtx compose.Context, stream <-chan llms.StreamChunk, out chan<- Event) {
	defer close(out)

	for chunk := range stream {
		switch {
		case chunk.Err != nil:
			genSpan.EndWithError(chunk.Err)
			tr.SetFailed()
			err := chunk.Err
			if ctx.Err() != nil {
				err = errors.Wrap(errors.KindCancelled, "generation cancelled", ctx.Err())
			} else {
				err = errors.Wrap(errors.KindAdapterError, "generation failed", err)
			}
			p.metrics.RecordLLMCall(ctx, p.llm.Model(), time.Since(genStarted), 0, 0, err)
			p.metrics.RecordQuery(ctx, queryType, strategy, time.Since(started), len(retrieved.Hits), err)
			p.tracer.End(context.WithoutCancel(ctx), tr)
			out <- Event{Err: err}
			return

		case chunk.Final != nil:
			genSpan.End()
			resp := chunk.Final
			tr.SetTokens(resp.Usage.TotalTokens)
			p.metrics.RecordLLMCall(ctx, p.llm.Model(), time.Since(genStarted),
				resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)

			ans := p.checkOutput(tr, resp.Content, retrievedCtx)
			ans.Sources = retrieved.Hits
			ans.Warnings = append(retrieved.Warnings, ans.Warnings...)
			ans.TokensUsed = resp.Usage.TotalTokens
			ans.QueryType = queryType
			ans.Strategy = strategy
			ans.LatencyMs = time.Since(started).Milliseconds()
			ans.TraceID = tr.ID()

			p.metrics.RecordQuery(ctx, queryType, strategy, time.Since(started), len(retrieved.Hits), nil)
			p.tracer.End(context.WithoutCancel(ctx), tr)
			out <- Event{Answer: ans}
			return

		default:
			select {
			case out <- Event{Token: chunk.Token}:
			case <-ctx.Done():
				genSpan.EndWithError(ctx.Err())
				tr.SetFailed()
				p.tracer.End(context.WithoutCancel(ctx), tr)
				return
			}
		}
	}

	// The adapter closed the stream without a terminal chunk.
	genSpan.EndWithError(errors.New(errors.KindAdapterError, "stream ended without final chunk"))
	tr.SetFailed()
	p.tracer.End(context.WithoutCancel(ctx), tr)
	out <- Event{Err: errors.New(errors.KindAdapterError, "stream ended without final chunk")}
}

// cannedStream emits a fixed answer as a single token followed by the
// terminal event.
func (p *Pipeline) cannedStream(ctx context.Context, tr *tracing.Trace, started time.Time, ans *Answer) <-chan Event {
	ans.LatencyMs = time.Since(started).Milliseconds()
	ans.TraceID = tr.ID()
	p.tracer.End(context.WithoutCancel(ctx), tr)

	out := make(chan Event, 2)
	out <- Event{Token: ans.Text}
	out <- Event{Answer: ans}
	close(out)
	return out
}
