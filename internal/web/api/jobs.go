package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/scheduler"
)

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Jobs.GetJobs(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to list jobs")
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*jobrun.JobInfo{}
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	key := jobKey(r)
	info, err := h.Jobs.GetJob(r.Context(), key)
	if err != nil {
		h.Logger.Error().Err(err).Str("job", key.String()).Msg("failed to get job")
		h.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if info == nil {
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) listJobRuns(w http.ResponseWriter, r *http.Request) {
	key := jobKey(r)
	f, err := runFilterFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.JobName = key.Name
	f.JobGroup = key.Group

	runs, err := h.Jobs.GetJobRuns(r.Context(), f)
	if err != nil {
		h.Logger.Error().Err(err).Str("job", key.String()).Msg("failed to list job runs")
		h.writeError(w, http.StatusInternalServerError, "failed to list job runs")
		return
	}
	if runs == nil {
		runs = []*jobrun.JobRun{}
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) jobStats(w http.ResponseWriter, r *http.Request) {
	key := jobKey(r)
	from, err := parseTimeParam(r, "from")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.Jobs.GetJobRunStats(r.Context(), key, from, to)
	if err != nil {
		h.Logger.Error().Err(err).Str("job", key.String()).Msg("failed to get job stats")
		h.writeError(w, http.StatusInternalServerError, "failed to get job stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) jobTriggers(w http.ResponseWriter, r *http.Request) {
	key := jobKey(r)
	triggers, err := h.Jobs.GetTriggers(r.Context(), key)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to get triggers")
		return
	}
	if triggers == nil {
		triggers = []jobrun.TriggerInfo{}
	}
	h.writeJSON(w, http.StatusOK, triggers)
}

type triggerRequest struct {
	Data map[string]any `json:"data"`
}

func (h *Handler) triggerJob(w http.ResponseWriter, r *http.Request) {
	key := jobKey(r)

	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	data, err := jobrun.FromAny(req.Data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Jobs.TriggerJob(r.Context(), key, data); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to trigger job")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (h *Handler) pauseJob(w http.ResponseWriter, r *http.Request) {
	h.jobControl(w, r, h.Jobs.PauseJob, "pause job", "paused")
}

func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request) {
	h.jobControl(w, r, h.Jobs.ResumeJob, "resume job", "resumed")
}

func (h *Handler) jobControl(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, key jobrun.JobKey) error, verb, status string) {
	key := jobKey(r)
	if err := op(r.Context(), key); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to "+verb)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) purgeJobRuns(w http.ResponseWriter, r *http.Request) {
	key := jobKey(r)
	olderThan, err := parseCutoff(r.URL.Query().Get("older_than"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.Jobs.PurgeJobRuns(r.Context(), key, olderThan)
	if err != nil {
		h.Logger.Error().Err(err).Str("job", key.String()).Msg("failed to purge job runs")
		h.writeError(w, http.StatusInternalServerError, "failed to purge job runs")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

// parseCutoff accepts either an RFC3339 timestamp or a Go duration to
// subtract from now.
func parseCutoff(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("older_than parameter is required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return time.Time{}, errors.New("older_than must be an RFC3339 timestamp or a duration")
	}
	return time.Now().UTC().Add(-d), nil
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, errors.New(name + " must be an RFC3339 timestamp")
	}
	return &t, nil
}
