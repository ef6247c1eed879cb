// Package api implements the HTTP API handlers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/jobstore"
	"github.com/croneye/croneye/internal/realtime"
)

// Handler holds dependencies for all API handlers.
type Handler struct {
	Jobs         *jobstore.Store
	Events       *realtime.Broker
	InstanceName string
	Logger       zerolog.Logger
}

// RegisterRoutes registers all API routes on r, which is expected to be the
// /api/v1 subrouter.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{group}/{name}", h.getJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{group}/{name}/runs", h.listJobRuns).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{group}/{name}/runs", h.purgeJobRuns).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{group}/{name}/stats", h.jobStats).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{group}/{name}/triggers", h.jobTriggers).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{group}/{name}/trigger", h.triggerJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{group}/{name}/pause", h.pauseJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{group}/{name}/resume", h.resumeJob).Methods(http.MethodPost)
	r.HandleFunc("/runs", h.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs", h.saveRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}", h.getRun).Methods(http.MethodGet)
	r.HandleFunc("/events", h.streamEvents).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
}

// jobKey extracts the job key from the route variables.
func jobKey(r *http.Request) jobrun.JobKey {
	vars := mux.Vars(r)
	return jobrun.JobKey{Name: vars["name"], Group: vars["group"]}
}

// writeJSON writes a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error().Err(err).Msg("failed to write JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
