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

package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/docrag/pkg/errors"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.opts.Monitor == nil {
		s.unavailable(w, r, "monitoring")
		return
	}

	d, err := s.opts.Monitor.Dashboard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	if s.opts.Monitor == nil {
		s.unavailable(w, r, "monitoring")
		return
	}

	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	buckets, err := s.opts.Monitor.Hourly(r.Context(), hours)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "monitoring")
		return
	}

	unackedOnly := r.URL.Query().Get("unacknowledged") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	alerts, err := s.opts.Store.ListAlerts(r.Context(), unackedOnly, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleAlertsCheck(w http.ResponseWriter, r *http.Request) {
	if s.opts.Alerts == nil {
		s.unavailable(w, r, "monitoring")
		return
	}

	created, err := s.opts.Alerts.Check(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"created": created})
}

func (s *Server) handleAlertAcknowledge(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "monitoring")
		return
	}

	id := chi.URLParam(r, "id")
	by := userFromRequest(r).UserID
	if by == "" {
		by = "api"
	}

	found, err := s.opts.Store.AcknowledgeAlert(r.Context(), id, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, errors.Newf(errors.KindNotFound, "alert %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "id": id})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cache == nil {
		s.unavailable(w, r, "cache")
		return
	}

	stats := s.opts.Cache.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"hits":    stats.Hits,
		"misses":  stats.Misses,
		"hitRate": stats.HitRate(),
	})
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cache == nil {
		s.unavailable(w, r, "cache")
		return
	}

	if err := s.opts.Cache.Flush(r.Context()); err != nil {
		s.writeError(w, r, errors.Wrap(errors.KindAdapterError, "cache flush failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (s *Server) handleRecentTraces(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "monitoring")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	traces, err := s.opts.Store.RecentTraces(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

func (s *Server) handleTraceStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "monitoring")
		return
	}

	realtime, err := s.opts.Store.RealtimeTraceStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	daily, err := s.opts.Store.DailyTraceStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"realtime": realtime, "daily": daily})
}
