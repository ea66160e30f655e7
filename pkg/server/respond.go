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
	"encoding/json"
	"net/http"
	"time"

	"github.com/kadirpekel/docrag/pkg/errors"
)

type errorBody struct {
	Error      string      `json:"error"`
	Code       errors.Kind `json:"code"`
	StatusCode int         `json:"statusCode"`
	Details    string      `json:"details,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Path       string      `json:"path"`
	Method     string      `json:"method"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

// writeError maps the error's kind to a status code. Internal detail is
// logged, not leaked.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.KindOf(err)
	status := errors.HTTPStatus(kind)

	msg := err.Error()
	if kind == errors.KindInternal {
		s.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	s.writeJSON(w, status, errorBody{
		Error:      msg,
		Code:       kind,
		StatusCode: status,
		Timestamp:  time.Now().UTC(),
		Path:       r.URL.Path,
		Method:     r.Method,
	})
}

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, component string) {
	s.writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error:      component + " is not configured",
		Code:       errors.KindAdapterUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Timestamp:  time.Now().UTC(),
		Path:       r.URL.Path,
		Method:     r.Method,
	})
}
