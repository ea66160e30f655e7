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
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker is implemented by every adapter that can probe its backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ComponentHealth is one adapter's probe result.
type ComponentHealth struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// HealthReport aggregates all component probes.
type HealthReport struct {
	Healthy    bool              `json:"healthy"`
	Components []ComponentHealth `json:"components"`
}

// Health probes registered components in parallel.
type Health struct {
	mu     sync.Mutex
	checks map[string]HealthChecker
}

// NewHealth creates an empty health registry.
func NewHealth() *Health {
	return &Health{checks: map[string]HealthChecker{}}
}

// Register adds a named component. Nil checkers are ignored so optional
// adapters can be passed through unconditionally.
func (h *Health) Register(name string, c HealthChecker) {
	if c == nil {
		return
	}
	h.mu.Lock()
	h.checks[name] = c
	h.mu.Unlock()
}

// Check probes every component concurrently with a per-probe timeout.
func (h *Health) Check(ctx context.Context) *HealthReport {
	h.mu.Lock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.Unlock()
	sort.Strings(names)

	report := &HealthReport{Healthy: true, Components: make([]ComponentHealth, len(names))}

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		h.mu.Lock()
		checker := h.checks[name]
		h.mu.Unlock()

		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()

			started := time.Now()
			err := checker.HealthCheck(probeCtx)

			ch := ComponentHealth{
				Name:      name,
				Healthy:   err == nil,
				LatencyMs: time.Since(started).Milliseconds(),
			}
			if err != nil {
				ch.Error = err.Error()
			}
			report.Components[i] = ch
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range report.Components {
		if !c.Healthy {
			report.Healthy = false
			break
		}
	}
	return report
}
