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

package tracing

import (
	"context"
	"fmt"

	"github.com/kadirpekel/docrag/pkg/cache"
	"github.com/kadirpekel/docrag/pkg/config"
	"github.com/kadirpekel/docrag/pkg/store"
)

// AlertGenerator compares recent trace statistics against the configured
// thresholds and files alerts. The store deduplicates same-type alerts
// within an hour, so Check can run on a tight schedule.
type AlertGenerator struct {
	store      *store.Store
	cache      cache.Cache
	thresholds config.AlertsConfig
}

// NewAlertGenerator creates an alert generator.
func NewAlertGenerator(st *store.Store, c cache.Cache, cfg config.AlertsConfig) *AlertGenerator {
	return &AlertGenerator{store: st, cache: c, thresholds: cfg}
}

// Check evaluates all thresholds and returns the newly created alerts.
// Deduplicated alerts are not returned.
func (a *AlertGenerator) Check(ctx context.Context) ([]*store.Alert, error) {
	daily, err := a.store.DailyTraceStats(ctx)
	if err != nil {
		return nil, err
	}
	realtime, err := a.store.RealtimeTraceStats(ctx)
	if err != nil {
		return nil, err
	}

	var created []*store.Alert

	if p95 := daily.P95LatencyMs; daily.Total > 0 && p95 > float64(a.thresholds.P95LatencyMs) {
		severity := store.SeverityWarning
		if p95 > 2*float64(a.thresholds.P95LatencyMs) {
			severity = store.SeverityCritical
		}
		alert, err := a.store.CreateAlert(ctx, store.AlertHighLatency, severity,
			fmt.Sprintf("p95 latency %.0fms exceeds threshold %dms", p95, a.thresholds.P95LatencyMs),
			map[string]any{"p95_latency_ms": p95, "threshold_ms": a.thresholds.P95LatencyMs})
		if err != nil {
			return created, err
		}
		if alert != nil {
			created = append(created, alert)
		}
	}

	if rate := realtime.ErrorRate; rate > a.thresholds.ErrorRate {
		severity := store.SeverityError
		if rate > 2*a.thresholds.ErrorRate {
			severity = store.SeverityCritical
		}
		alert, err := a.store.CreateAlert(ctx, store.AlertHighErrorRate, severity,
			fmt.Sprintf("error rate %.1f%% exceeds threshold %.1f%%", rate*100, a.thresholds.ErrorRate*100),
			map[string]any{"error_rate": rate, "threshold": a.thresholds.ErrorRate})
		if err != nil {
			return created, err
		}
		if alert != nil {
			created = append(created, alert)
		}
	}

	stats := a.cache.Stats()
	if total := stats.Hits + stats.Misses; total > 0 {
		if rate := stats.HitRate(); rate < a.thresholds.CacheHitRate {
			alert, err := a.store.CreateAlert(ctx, store.AlertLowCacheHitRate, store.SeverityInfo,
				fmt.Sprintf("cache hit rate %.1f%% below threshold %.1f%%", rate*100, a.thresholds.CacheHitRate*100),
				map[string]any{"hit_rate": rate, "threshold": a.thresholds.CacheHitRate})
			if err != nil {
				return created, err
			}
			if alert != nil {
				created = append(created, alert)
			}
		}
	}

	return created, nil
}
