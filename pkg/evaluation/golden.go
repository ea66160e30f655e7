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

package evaluation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/docrag/pkg/store"
)

type goldenFile struct {
	Queries []*store.GoldenQuery `yaml:"queries"`
}

// LoadGoldenFile parses a golden dataset from YAML. The file holds a
// top-level "queries" list; entries without an explicit category default to
// factual.
func LoadGoldenFile(path string) ([]*store.GoldenQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read golden file: %w", err)
	}
	return ParseGolden(data)
}

// ParseGolden parses and validates golden queries from YAML bytes.
func ParseGolden(data []byte) ([]*store.GoldenQuery, error) {
	var f goldenFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse golden file: %w", err)
	}

	for i, g := range f.Queries {
		if g.Query == "" {
			return nil, fmt.Errorf("golden query %d has no query text", i)
		}
		if g.Category == "" {
			g.Category = store.CategoryFactual
		}
		switch g.Category {
		case store.CategoryFactual, store.CategoryComparison, store.CategorySummary, store.CategoryProcedural:
		default:
			return nil, fmt.Errorf("golden query %d has unknown category %q", i, g.Category)
		}
	}
	return f.Queries, nil
}
