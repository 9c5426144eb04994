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
	"net/http"
	"time"

	internallog "github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/runner"
	"github.com/tombee/autoflow/pkg/errors"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	ActiveRuns  int    `json:"active_runs"`
	PendingRuns int    `json:"pending_runs"`
	Scheduled   int    `json:"scheduled"`
}

// CronEntry is one scheduled automation in GET /api/cron.
type CronEntry struct {
	AutomationID string     `json:"automation_id"`
	Cron         string     `json:"cron"`
	Next         *time.Time `json:"next,omitempty"`
	Prev         *time.Time `json:"prev,omitempty"`
}

// Handler returns the daemon's HTTP handler with request logging.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	d.ingress.RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /api/cron", d.handleCronList)
	mux.HandleFunc("POST /api/cron/{automationID}/fire", d.handleCronFire)
	if d.metrics != nil {
		mux.Handle("GET /metrics", d.metrics)
	}
	return internallog.HTTPMiddleware(d.logger, mux)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Version:     d.cfg.Version,
		ActiveRuns:  d.runner.ActiveRunCount(),
		PendingRuns: d.runner.PendingRunCount(),
		Scheduled:   len(d.scheduler.Entries()),
	}
	status := http.StatusOK
	if d.runner.IsDraining() {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (d *Daemon) handleCronList(w http.ResponseWriter, r *http.Request) {
	entries := d.scheduler.Entries()
	out := make([]CronEntry, 0, len(entries))
	for _, e := range entries {
		ce := CronEntry{AutomationID: e.AutomationID, Cron: e.Cron}
		if !e.Next.IsZero() {
			next := e.Next
			ce.Next = &next
		}
		if !e.Prev.IsZero() {
			prev := e.Prev
			ce.Prev = &prev
		}
		out = append(out, ce)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (d *Daemon) handleCronFire(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("automationID")
	runID, err := d.scheduler.Fire(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
	case errors.Is(err, runner.ErrDraining):
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
