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

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/docrag/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	// AlertInterval is the period of the background threshold check.
	AlertInterval time.Duration `help:"Interval between alert threshold checks." default:"5m"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Options{
		Config:    *a.cfg,
		Chat:      a.pipeline,
		Health:    a.health,
		Store:     a.store,
		Cache:     a.cache,
		Monitor:   a.monitor,
		Alerts:    a.alerts,
		Eval:      a.harness,
		ModelName: a.cfg.LLM.Model,
	})

	go c.runAlertLoop(ctx, a)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

// runAlertLoop periodically evaluates alert thresholds. The store
// deduplicates alerts, so the loop can run frequently.
func (c *ServeCmd) runAlertLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(c.AlertInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			created, err := a.alerts.Check(ctx)
			if err != nil {
				slog.Warn("alert check failed", "error", err)
				continue
			}
			for _, alert := range created {
				slog.Warn("alert raised", "type", alert.AlertType, "severity", alert.Severity, "message", alert.Message)
			}
		}
	}
}
