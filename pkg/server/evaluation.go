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
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/docrag/pkg/errors"
	"github.com/kadirpekel/docrag/pkg/evaluation"
	"github.com/kadirpekel/docrag/pkg/store"
)

type evalRunRequest struct {
	Version  string `json:"version"`
	Category string `json:"category,omitempty"`
}

// handleEvalRun starts an evaluation run in the background and answers 202
// with the run id. Callers poll /evaluation/runs/{id} for completion.
func (s *Server) handleEvalRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Eval == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	var body evalRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		s.writeError(w, r, errors.Wrap(errors.KindValidation, "invalid request body", err))
		return
	}
	if body.Version == "" {
		body.Version = s.opts.Config.RAG.Version
	}

	cfg, _ := json.Marshal(s.opts.Config.RAG)
	runID, err := s.opts.Eval.Start(r.Context(), body.Version, body.Category, cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID, "status": "started"})
}

func (s *Server) handleEvalRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.opts.Store.ListEvaluationRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleEvalRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.opts.Store.GetEvaluationRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if run == nil {
		s.writeError(w, r, errors.Newf(errors.KindNotFound, "evaluation run %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleEvalRunResults(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.opts.Store.GetEvaluationRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if run == nil {
		s.writeError(w, r, errors.Newf(errors.KindNotFound, "evaluation run %s not found", id))
		return
	}

	results, err := s.opts.Store.ResultsForRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleEvalCompare(w http.ResponseWriter, r *http.Request) {
	if s.opts.Eval == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	run1, run2 := r.URL.Query().Get("run1"), r.URL.Query().Get("run2")
	if run1 == "" || run2 == "" {
		s.writeError(w, r, errors.New(errors.KindValidation, "query parameters run1 and run2 are required"))
		return
	}

	cmp, err := s.opts.Eval.Compare(r.Context(), run1, run2)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleGoldenList(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	queries, err := s.opts.Store.ListGoldenQueries(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"queries": queries})
}

func (s *Server) handleGoldenGet(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	id := chi.URLParam(r, "id")
	g, err := s.opts.Store.GetGoldenQuery(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if g == nil {
		s.writeError(w, r, errors.Newf(errors.KindNotFound, "golden query %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleGoldenCreate(w http.ResponseWriter, r *http.Request) {
	s.saveGolden(w, r, "")
}

func (s *Server) handleGoldenUpdate(w http.ResponseWriter, r *http.Request) {
	s.saveGolden(w, r, chi.URLParam(r, "id"))
}

// saveGolden persists one golden query. A non-empty id (PUT) overrides any
// id in the body.
func (s *Server) saveGolden(w http.ResponseWriter, r *http.Request, id string) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	var g store.GoldenQuery
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		s.writeError(w, r, errors.Wrap(errors.KindValidation, "invalid request body", err))
		return
	}
	if id != "" {
		g.ID = id
	}
	if g.Query == "" {
		s.writeError(w, r, errors.New(errors.KindValidation, "query is required"))
		return
	}

	if err := s.opts.Store.SaveGoldenQuery(r.Context(), &g); err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if id != "" {
		status = http.StatusOK
	}
	s.writeJSON(w, status, g)
}

func (s *Server) handleGoldenDelete(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	id := chi.URLParam(r, "id")
	g, err := s.opts.Store.GetGoldenQuery(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if g == nil {
		s.writeError(w, r, errors.Newf(errors.KindNotFound, "golden query %s not found", id))
		return
	}

	if err := s.opts.Store.DeleteGoldenQuery(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// handleGoldenBulk imports golden queries in bulk. YAML bodies use the
// golden-file format; JSON bodies carry a plain list.
func (s *Server) handleGoldenBulk(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.unavailable(w, r, "evaluation")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.KindValidation, "failed to read body", err))
		return
	}

	var queries []*store.GoldenQuery
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		err = json.Unmarshal(data, &queries)
	} else {
		queries, err = evaluation.ParseGolden(data)
	}
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.KindValidation, "invalid golden dataset", err))
		return
	}
	if len(queries) == 0 {
		s.writeError(w, r, errors.New(errors.KindValidation, "no golden queries in body"))
		return
	}

	if err := s.opts.Store.ImportGoldenQueries(r.Context(), queries); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"imported": len(queries)})
}
