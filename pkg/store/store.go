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

// Package store is the relational persistence layer.
//
// It holds documents, chunk metadata, traces, alerts, the golden dataset,
// evaluation runs, and the entity mirror. Permission filtering is enforced
// server-side with row-level security: the per-request user identity is set
// as transaction-local session variables before any permission-dependent
// query runs, and cleared automatically when the transaction ends.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kadirpekel/docrag/pkg/config"
)

// Store wraps the SQL connection pool.
type Store struct {
	db *sql.DB
}

// UserContext identifies the caller for row-level security.
type UserContext struct {
	UserID     string
	Role       string
	Department string
}

// RoleAdmin bypasses document visibility filters.
const RoleAdmin = "admin"

// New opens the database and configures the pool.
func New(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if cfg.MigrateOnStart {
		if err := s.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	return s, nil
}

// NewWithDB wraps an existing database handle (used by tests).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithUserContext runs fn inside a transaction whose session carries the
// caller identity for row-level security.
//
// SET LOCAL scopes the variables to the transaction, so they are cleared on
// commit, rollback, and cancellation alike; the connection returns to the
// pool clean on every exit path.
func (s *Store) WithUserContext(ctx context.Context, uc UserContext, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := setUserContext(ctx, tx, uc); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func setUserContext(ctx context.Context, tx *sql.Tx, uc UserContext) error {
	// set_config with is_local=true is the parameterizable form of SET LOCAL.
	const q = `SELECT set_config('app.user_id', $1, true),
	                  set_config('app.user_role', $2, true),
	                  set_config('app.user_department', $3, true)`
	if _, err := tx.ExecContext(ctx, q, uc.UserID, uc.Role, uc.Department); err != nil {
		return fmt.Errorf("failed to set user context: %w", err)
	}
	return nil
}
