// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	internallog "github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/internal/orchestrator"
	"github.com/tombee/foreman/internal/store"
)

// API handles the daemon's HTTP surface.
type API struct {
	engine *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewAPI creates the API handler over the orchestrator.
func NewAPI(engine *orchestrator.Orchestrator) *API {
	return &API{
		engine: engine,
		logger: internallog.WithComponent(slog.Default(), "api"),
	}
}

// Routes returns the daemon's HTTP handler.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/executions", a.handleQueue)
	mux.HandleFunc("GET /api/v1/executions", a.handleList)
	mux.HandleFunc("GET /api/v1/executions/history", a.handleHistory)
	mux.HandleFunc("GET /api/v1/executions/{id}", a.handleGet)
	mux.HandleFunc("POST /api/v1/executions/{id}/result", a.handleResult)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", a.handleCancel)
	mux.HandleFunc("GET /api/v1/runners", a.handleRunners)
	mux.HandleFunc("GET /api/v1/status", a.handleStatus)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// handleQueue handles POST /api/v1/executions.
func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	var spec store.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	exec, err := a.engine.QueueExecution(r.Context(), spec)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

// handleList handles GET /api/v1/executions. The status query parameter
// defaults to queued.
func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	status := store.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = store.StatusQueued
	}

	execs, err := a.engine.ListExecutions(r.Context(), status)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

// handleGet handles GET /api/v1/executions/{id}.
func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	exec, err := a.engine.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleHistory handles GET /api/v1/executions/history.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	execs, err := a.engine.History(r.Context())
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

// resultRequest is the body for POST /api/v1/executions/{id}/result.
// A non-empty error reports a failure; otherwise the result payload
// reports a completion.
type resultRequest struct {
	Result store.Result `json:"result"`
	Error  string       `json:"error,omitempty"`
}

// handleResult handles POST /api/v1/executions/{id}/result.
func (a *API) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var exec *store.Execution
	var err error
	if req.Error != "" {
		exec, err = a.engine.ReportFailure(r.Context(), id, req.Error)
	} else {
		exec, err = a.engine.ReportResult(r.Context(), id, req.Result)
	}
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleCancel handles POST /api/v1/executions/{id}/cancel.
func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	exec, err := a.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleRunners handles GET /api/v1/runners.
func (a *API) handleRunners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runners": a.engine.Runners()})
}

// handleStatus handles GET /api/v1/status.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.Status(r.Context())
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleHealthz handles GET /healthz.
func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses:
// validation 400, unknown ID 404, illegal transition 409.
func (a *API) writeEngineError(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	var nferr *store.NotFoundError
	var terr *store.InvalidTransitionError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &nferr):
		writeError(w, http.StatusNotFound, nferr.Error())
	case errors.As(err, &terr):
		writeError(w, http.StatusConflict, terr.Error())
	default:
		a.logger.Error("request failed", internallog.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
