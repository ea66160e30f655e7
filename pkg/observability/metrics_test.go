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

package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docrag/pkg/config"
)

func TestDisabledMetricsAreNoop(t *testing.T) {
	m, err := Init(config.MetricsConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, m)

	// Must not panic on a recorder without instruments.
	m.RecordQuery(context.Background(), "factual", "hybrid", time.Second, 5, nil)
	m.RecordLLMCall(context.Background(), "llama3.1:8b", time.Second, 100, 50, errors.New("boom"))

	var nilMetrics *Metrics
	nilMetrics.RecordQuery(context.Background(), "factual", "hybrid", time.Second, 5, nil)
}

func TestEnabledMetricsRecord(t *testing.T) {
	m, err := Init(config.MetricsConfig{Enabled: true})
	require.NoError(t, err)
	assert.NotNil(t, m.queryDuration)

	m.RecordQuery(context.Background(), "relational", "hybrid_with_graph", 250*time.Millisecond, 8, nil)
	m.RecordLLMCall(context.Background(), "llama3.1:8b", time.Second, 900, 120, nil)
}
