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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert types raised by the monitoring read-side.
const (
	AlertHighLatency     = "high_latency"
	AlertHighErrorRate   = "high_error_rate"
	AlertLowCacheHitRate = "low_cache_hit_rate"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Alert is one monitoring alert.
type Alert struct {
	ID             string          `json:"id"`
	AlertType      string          `json:"alertType"`
	Severity       string          `json:"severity"`
	Message        string          `json:"message"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedBy string          `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledgedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// CreateAlert inserts an alert unless one of the same type was created within
// the last hour. Returns the created alert, or nil when de-duplicated. The
// window check is part of the INSERT so concurrent checkers cannot both
// insert.
func (s *Store) CreateAlert(ctx context.Context, alertType, severity, message string, metadata map[string]any) (*Alert, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert metadata: %w", err)
	}
	if metadata == nil {
		meta = []byte("{}")
	}

	a := &Alert{
		ID:        uuid.NewString(),
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}

	const q = `INSERT INTO monitoring_alerts (id, alert_type, severity, message, metadata, created_at)
	SELECT $1, $2, $3, $4, $5, $6
	WHERE NOT EXISTS (SELECT 1 FROM monitoring_alerts
	    WHERE alert_type = $2 AND created_at > now() - interval '1 hour')`
	res, err := s.db.ExecContext(ctx, q, a.ID, a.AlertType, a.Severity, a.Message, []byte(a.Metadata), a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return a, nil
}

// ListAlerts returns alerts newest first, optionally only unacknowledged.
func (s *Store) ListAlerts(ctx context.Context, unacknowledgedOnly bool, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT id, alert_type, severity, message, metadata, acknowledged,
	    COALESCE(acknowledged_by, ''), acknowledged_at, created_at
	FROM monitoring_alerts`
	if unacknowledgedOnly {
		q += ` WHERE NOT acknowledged`
	}
	q += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a := &Alert{}
		var meta []byte
		if err := rows.Scan(&a.ID, &a.AlertType, &a.Severity, &a.Message, &meta,
			&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Metadata = json.RawMessage(meta)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert marks an alert acknowledged. Returns false when the alert
// does not exist.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, by string) (bool, error) {
	const q = `UPDATE monitoring_alerts
	SET acknowledged = true, acknowledged_by = $2, acknowledged_at = now()
	WHERE id = $1`

	res, err := s.db.ExecContext(ctx, q, id, by)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetAlert fetches one alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	const q = `SELECT id, alert_type, severity, message, metadata, acknowledged,
	    COALESCE(acknowledged_by, ''), acknowledged_at, created_at
	FROM monitoring_alerts WHERE id = $1`

	a := &Alert{}
	var meta []byte
	err := s.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.AlertType, &a.Severity,
		&a.Message, &meta, &a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	a.Metadata = json.RawMessage(meta)
	return a, nil
}
