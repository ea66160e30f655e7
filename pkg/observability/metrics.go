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

// Package observability exposes engine metrics via OpenTelemetry with a
// prometheus exporter. A zero-value Metrics records nothing, so disabled
// metrics cost only a nil check.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/docrag/pkg/config"
)

// Metrics records engine-level counters and histograms.
type Metrics struct {
	queryDuration    metric.Float64Histogram
	queriesTotal     metric.Int64Counter
	queryErrorsTotal metric.Int64Counter

	chunksRetrieved metric.Int64Histogram

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter
}

// Init creates the metrics recorder. When disabled, a no-op recorder is
// returned and no exporter is registered.
func Init(cfg config.MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter)).Meter("docrag")

	m := &Metrics{}

	m.queryDuration, err = meter.Float64Histogram(
		"docrag_query_duration_seconds",
		metric.WithDescription("End-to-end query duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	m.queriesTotal, err = meter.Int64Counter(
		"docrag_queries_total",
		metric.WithDescription("Total queries processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	m.queryErrorsTotal, err = meter.Int64Counter(
		"docrag_query_errors_total",
		metric.WithDescription("Total failed queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query errors counter: %w", err)
	}

	m.chunksRetrieved, err = meter.Int64Histogram(
		"docrag_chunks_retrieved",
		metric.WithDescription("Chunks retrieved per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunks histogram: %w", err)
	}

	m.llmDuration, err = meter.Float64Histogram(
		"docrag_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	m.llmInputTokens, err = meter.Int64Counter(
		"docrag_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	m.llmOutputTokens, err = meter.Int64Counter(
		"docrag_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	m.llmErrorsTotal, err = meter.Int64Counter(
		"docrag_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	return m, nil
}

// RecordQuery records one query outcome.
func (m *Metrics) RecordQuery(ctx context.Context, queryType, strategy string, duration time.Duration, chunks int, err error) {
	if m == nil || m.queryDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("query_type", queryType),
		attribute.String("strategy", strategy),
	}

	m.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.queriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.chunksRetrieved.Record(ctx, int64(chunks), metric.WithAttributes(attrs...))

	if err != nil {
		m.queryErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordLLMCall records one generation call.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("model", model)}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
