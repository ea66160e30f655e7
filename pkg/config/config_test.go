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

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  dsn: postgres://localhost/docrag?sslmode=disable
`))
	require.NoError(t, err)

	assert.Equal(t, "v2", cfg.RAG.Version)
	assert.Equal(t, 0.7, cfg.RAG.HybridAlpha)
	assert.Equal(t, 20, cfg.RAG.SearchLimit)
	assert.Equal(t, 5, cfg.RAG.Rerank.TopK)
	assert.Equal(t, 3, cfg.Guardrails.MinQueryLength)
	assert.Equal(t, 2000, cfg.Guardrails.MaxQueryLength)
	assert.Equal(t, 30, cfg.Guardrails.MaxQueriesPerMinute)
	assert.Equal(t, 0.7, cfg.Guardrails.GroundednessThreshold)
	assert.Equal(t, 5000, cfg.Alerts.P95LatencyMs)
	assert.Equal(t, "docrag_chunks", cfg.Vector.Collection)
}

func TestParseEnvExpansion(t *testing.T) {
	os.Setenv("DOCRAG_TEST_DSN", "postgres://db:5432/rag")
	defer os.Unsetenv("DOCRAG_TEST_DSN")

	cfg, err := Parse([]byte(`
database:
  dsn: ${DOCRAG_TEST_DSN}
llm:
  model: ${DOCRAG_TEST_MODEL:-mistral:7b}
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://db:5432/rag", cfg.Database.DSN)
	assert.Equal(t, "mistral:7b", cfg.LLM.Model)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad version", func(c *Config) { c.RAG.Version = "v3" }},
		{"alpha out of range", func(c *Config) { c.RAG.HybridAlpha = 1.5 }},
		{"negative limit", func(c *Config) { c.RAG.SearchLimit = -1 }},
		{"min above max length", func(c *Config) { c.Guardrails.MinQueryLength = 5000 }},
		{"sample rate out of range", func(c *Config) { c.Trace.SampleRate = 2 }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Database.DSN = "postgres://localhost/docrag"
			cfg.SetDefaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandEnvVarsPlainString(t *testing.T) {
	assert.Equal(t, "no variables here", ExpandEnvVars("no variables here"))
}
