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
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/docrag/pkg/evaluation"
)

// EvalCmd groups the evaluation subcommands.
type EvalCmd struct {
	Run     EvalRunCmd     `cmd:"" help:"Run the golden queries against the pipeline."`
	Compare EvalCompareCmd `cmd:"" help:"Compare two evaluation runs."`
	List    EvalListCmd    `cmd:"" help:"List past evaluation runs."`
}

// EvalRunCmd executes one evaluation run.
type EvalRunCmd struct {
	Version  string `help:"Pipeline version label for the run." default:""`
	Category string `help:"Restrict to one golden category."`
}

func (c *EvalRunCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	version := c.Version
	if version == "" {
		version = a.cfg.RAG.Version
	}
	cfgSnapshot, _ := json.Marshal(a.cfg.RAG)

	run, err := a.harness.Run(ctx, version, c.Category, cfgSnapshot)
	if err != nil {
		return err
	}

	fmt.Printf("run %s (%s) completed\n", run.ID, run.Version)
	fmt.Printf("  precision@5:   %.3f\n", run.AvgPrecision5)
	fmt.Printf("  recall@20:     %.3f\n", run.AvgRecall20)
	fmt.Printf("  mrr:           %.3f\n", run.AvgMRR)
	fmt.Printf("  groundedness:  %.3f\n", run.AvgGroundedness)
	fmt.Printf("  avg latency:   %.0fms\n", run.AvgLatencyMs)
	return nil
}

// EvalCompareCmd prints the metric deltas between two runs.
type EvalCompareCmd struct {
	RunA string `arg:"" help:"Baseline run id."`
	RunB string `arg:"" help:"Run id to compare against."`
}

func (c *EvalCompareCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	cmp, err := a.harness.Compare(ctx, c.RunA, c.RunB)
	if err != nil {
		return err
	}

	fmt.Printf("%s vs %s\n", cmp.RunA.ID, cmp.RunB.ID)
	fmt.Printf("  Δprecision@5:  %+.3f\n", cmp.DeltaPrecision5)
	fmt.Printf("  Δrecall@20:    %+.3f\n", cmp.DeltaRecall20)
	fmt.Printf("  Δmrr:          %+.3f\n", cmp.DeltaMRR)
	fmt.Printf("  Δgroundedness: %+.3f\n", cmp.DeltaGroundedness)
	fmt.Printf("  Δlatency:      %+.0fms\n", cmp.DeltaLatencyMs)
	return nil
}

// EvalListCmd lists past runs.
type EvalListCmd struct {
	Limit int `help:"Maximum number of runs." default:"20"`
}

func (c *EvalListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.store.ListEvaluationRuns(ctx, c.Limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  %-10s %-9s p@5=%.3f r@20=%.3f grounded=%.3f\n",
			run.ID, run.Version, run.Status, run.AvgPrecision5, run.AvgRecall20, run.AvgGroundedness)
	}
	return nil
}

// GoldenCmd groups golden dataset subcommands.
type GoldenCmd struct {
	Import GoldenImportCmd `cmd:"" help:"Import golden queries from a YAML file."`
}

// GoldenImportCmd bulk-imports a golden dataset.
type GoldenImportCmd struct {
	File string `arg:"" help:"Path to the golden YAML file." type:"path"`
}

func (c *GoldenImportCmd) Run(cli *CLI) error {
	ctx := context.Background()

	queries, err := evaluation.LoadGoldenFile(c.File)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.ImportGoldenQueries(ctx, queries); err != nil {
		return err
	}
	fmt.Printf("imported %d golden queries\n", len(queries))
	return nil
}
