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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TraceRecord is one persisted request trace. Spans are stored as a JSON
// array; the tracing package owns the span shape.
type TraceRecord struct {
	TraceID           string          `json:"traceId"`
	Timestamp         time.Time       `json:"timestamp"`
	UserIDHash        string          `json:"userIdHash"`
	SessionID         string          `json:"sessionId,omitempty"`
	QueryLength       int             `json:"queryLength"`
	QueryType         string          `json:"queryType"`
	RetrievalStrategy string          `json:"retrievalStrategy"`
	Success           bool            `json:"success"`
	TotalLatencyMs    int64           `json:"totalLatencyMs"`
	TokensUsed        int             `json:"tokensUsed"`
	ChunksRetrieved   int             `json:"chunksRetrieved"`
	ChunksUsed        int             `json:"chunksUsed"`
	Groundedness      *float64        `json:"groundedness,omitempty"`
	Spans             json.RawMessage `json:"spans"`
}

// RealtimeStats covers the last five minutes.
type RealtimeStats struct {
	QueriesPerSecond float64 `json:"queriesPerSecond"`
	MeanLatencyMs    float64 `json:"meanLatencyMs"`
	ErrorRate        float64 `json:"errorRate"`
}

// DailyStats covers the last 24 hours.
type DailyStats struct {
	Total            int64   `json:"total"`
	MeanLatencyMs    float64 `json:"meanLatencyMs"`
	P50LatencyMs     float64 `json:"p50LatencyMs"`
	P95LatencyMs     float64 `json:"p95LatencyMs"`
	P99LatencyMs     float64 `json:"p99LatencyMs"`
	ErrorRate        float64 `json:"errorRate"`
	MeanGroundedness float64 `json:"meanGroundedness"`
}

// HourlyBucket is one hour of trace volume.
type HourlyBucket struct {
	Hour          time.Time `json:"hour"`
	Total         int64     `json:"total"`
	MeanLatencyMs float64   `json:"meanLatencyMs"`
	ErrorRate     float64   `json:"errorRate"`
}

// InsertTrace persists one trace row.
func (s *Store) InsertTrace(ctx context.Context, t *TraceRecord) error {
	spans := t.Spans
	if len(spans) == 0 {
		spans = json.RawMessage("[]")
	}

	const q = `INSERT INTO rag_traces
	    (trace_id, timestamp, user_id_hash, session_id, query_length, query_type,
	     retrieval_strategy, success, total_latency_ms, tokens_used,
	     chunks_retrieved, chunks_used, groundedness, spans)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.db.ExecContext(ctx, q,
		t.TraceID, t.Timestamp, t.UserIDHash, t.SessionID, t.QueryLength, t.QueryType,
		t.RetrievalStrategy, t.Success, t.TotalLatencyMs, t.TokensUsed,
		t.ChunksRetrieved, t.ChunksUsed, t.Groundedness, []byte(spans))
	if err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}
	return nil
}

// RecentTraces returns the newest traces, capped at limit.
func (s *Store) RecentTraces(ctx context.Context, limit int) ([]*TraceRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `SELECT trace_id, timestamp, user_id_hash, session_id, query_length,
	    query_type, retrieval_strategy, success, total_latency_ms, tokens_used,
	    chunks_retrieved, chunks_used, groundedness, spans
	FROM rag_traces ORDER BY timestamp DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var out []*TraceRecord
	for rows.Next() {
		t := &TraceRecord{}
		var spans []byte
		if err := rows.Scan(
			&t.TraceID, &t.Timestamp, &t.UserIDHash, &t.SessionID, &t.QueryLength,
			&t.QueryType, &t.RetrievalStrategy, &t.Success, &t.TotalLatencyMs, &t.TokensUsed,
			&t.ChunksRetrieved, &t.ChunksUsed, &t.Groundedness, &spans); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		t.Spans = json.RawMessage(spans)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RealtimeTraceStats aggregates the last five minutes.
func (s *Store) RealtimeTraceStats(ctx context.Context) (*RealtimeStats, error) {
	const q = `SELECT COUNT(*),
	    COALESCE(AVG(total_latency_ms), 0),
	    COALESCE(AVG(CASE WHEN success THEN 0.0 ELSE 1.0 END), 0)
	FROM rag_traces WHERE timestamp > now() - interval '5 minutes'`

	var total int64
	st := &RealtimeStats{}
	if err := s.db.QueryRowContext(ctx, q).Scan(&total, &st.MeanLatencyMs, &st.ErrorRate); err != nil {
		return nil, fmt.Errorf("failed to aggregate realtime stats: %w", err)
	}
	st.QueriesPerSecond = float64(total) / 300.0
	return st, nil
}

// DailyTraceStats aggregates the last 24 hours, including latency percentiles.
func (s *Store) DailyTraceStats(ctx context.Context) (*DailyStats, error) {
	const q = `SELECT COUNT(*),
	    COALESCE(AVG(total_latency_ms), 0),
	    COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY total_latency_ms), 0),
	    COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY total_latency_ms), 0),
	    COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY total_latency_ms), 0),
	    COALESCE(AVG(CASE WHEN success THEN 0.0 ELSE 1.0 END), 0),
	    COALESCE(AVG(groundedness), 0)
	FROM rag_traces WHERE timestamp > now() - interval '24 hours'`

	st := &DailyStats{}
	err := s.db.QueryRowContext(ctx, q).Scan(
		&st.Total, &st.MeanLatencyMs, &st.P50LatencyMs, &st.P95LatencyMs,
		&st.P99LatencyMs, &st.ErrorRate, &st.MeanGroundedness)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily stats: %w", err)
	}
	return st, nil
}

// ComponentLatencies returns the mean duration per span name over the last
// hour, unnesting the spans JSON array in SQL.
func (s *Store) ComponentLatencies(ctx context.Context) (map[string]float64, error) {
	const q = `SELECT span->>'name', AVG((span->>'durationMs')::double precision)
	FROM rag_traces, jsonb_array_elements(spans) AS span
	WHERE timestamp > now() - interval '1 hour'
	GROUP BY span->>'name'`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate component latencies: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var name string
		var mean float64
		if err := rows.Scan(&name, &mean); err != nil {
			return nil, fmt.Errorf("failed to scan component latency: %w", err)
		}
		out[name] = mean
	}
	return out, rows.Err()
}

// QueryTypeDistribution counts traces per query type over the last 24 hours.
func (s *Store) QueryTypeDistribution(ctx context.Context) (map[string]int64, error) {
	return s.distribution(ctx, "query_type")
}

// StrategyDistribution counts traces per retrieval strategy over the last
// 24 hours.
func (s *Store) StrategyDistribution(ctx context.Context) (map[string]int64, error) {
	return s.distribution(ctx, "retrieval_strategy")
}

func (s *Store) distribution(ctx context.Context, column string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, COUNT(*) FROM rag_traces
	WHERE timestamp > now() - interval '24 hours' GROUP BY %s`, column, column)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s distribution: %w", column, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		out[key] = count
	}
	return out, rows.Err()
}

// HourlyTraceStats buckets traces per hour going back the given number of
// hours.
func (s *Store) HourlyTraceStats(ctx context.Context, hours int) ([]HourlyBucket, error) {
	if hours <= 0 {
		hours = 24
	}

	const q = `SELECT date_trunc('hour', timestamp) AS hour, COUNT(*),
	    COALESCE(AVG(total_latency_ms), 0),
	    COALESCE(AVG(CASE WHEN success THEN 0.0 ELSE 1.0 END), 0)
	FROM rag_traces
	WHERE timestamp > now() - ($1 || ' hours')::interval
	GROUP BY hour ORDER BY hour`

	rows, err := s.db.QueryContext(ctx, q, hours)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate hourly stats: %w", err)
	}
	defer rows.Close()

	var out []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Total, &b.MeanLatencyMs, &b.ErrorRate); err != nil {
			return nil, fmt.Errorf("failed to scan hourly bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
