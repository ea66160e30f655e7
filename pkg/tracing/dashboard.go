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

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/docrag/pkg/cache"
	"github.com/kadirpekel/docrag/pkg/store"
)

// Dashboard is the aggregated monitoring view.
type Dashboard struct {
	Realtime     *store.RealtimeStats `json:"realtime"`
	Daily        *store.DailyStats    `json:"daily"`
	Components   map[string]float64   `json:"componentLatenciesMs"`
	QueryTypes   map[string]int64     `json:"queryTypeDistribution"`
	Strategies   map[string]int64     `json:"strategyDistribution"`
	CacheHitRate float64              `json:"cacheHitRate"`
	Alerts       []*store.Alert       `json:"unacknowledgedAlerts"`
}

// Monitor builds dashboards from persisted traces.
type Monitor struct {
	store *store.Store
	cache cache.Cache
}

// NewMonitor creates a monitor.
func NewMonitor(st *store.Store, c cache.Cache) *Monitor {
	return &Monitor{store: st, cache: c}
}

// Dashboard runs the aggregation sub-queries in parallel and assembles the
// view. Any failing sub-query fails the whole call.
func (m *Monitor) Dashboard(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{CacheHitRate: m.cache.Stats().HitRate()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		d.Realtime, err = m.store.RealtimeTraceStats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.Daily, err = m.store.DailyTraceStats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.Components, err = m.store.ComponentLatencies(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.QueryTypes, err = m.store.QueryTypeDistribution(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.Strategies, err = m.store.StrategyDistribution(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.Alerts, err = m.store.ListAlerts(gctx, true, 20)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// Hourly returns per-hour trace volume for the last n hours.
func (m *Monitor) Hourly(ctx context.Context, hours int) ([]store.HourlyBucket, error) {
	if hours <= 0 {
		hours = 24
	}
	return m.store.HourlyTraceStats(ctx, hours)
}
