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
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads, expands, parses, and validates a configuration file.
//
// A .env file in the working directory is loaded first so that ${VAR}
// references in the YAML resolve against it. A missing .env is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses configuration from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnvVars(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with defaults applied and no file input.
// The database DSN must still be supplied by the caller or environment.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.DSN = os.Getenv("DATABASE_URL")
	cfg.SetDefaults()
	return cfg
}
