package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/store"
)

// defaultTake caps unbounded run listings.
const defaultTake = 100

// runFilterFromQuery builds a store filter from the request's query
// parameters.
func runFilterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		JobName:        q.Get("job"),
		JobGroup:       q.Get("group"),
		Status:         jobrun.RunStatus(q.Get("status")),
		InstanceName:   q.Get("instance"),
		ResultContains: q.Get("contains"),
		Take:           defaultTake,
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		return f, err
	}
	f.From = from
	to, err := parseTimeParam(r, "to")
	if err != nil {
		return f, err
	}
	f.To = to

	if v := q.Get("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("priority must be an integer")
		}
		f.Priority = &p
	}
	if v := q.Get("take"); v != "" {
		take, err := strconv.Atoi(v)
		if err != nil || take < 0 {
			return f, errors.New("take must be a non-negative integer")
		}
		f.Take = take
	}
	return f, nil
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	f, err := runFilterFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.Jobs.GetJobRuns(r.Context(), f)
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*jobrun.JobRun{}
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	runs, err := h.Jobs.GetJobRuns(r.Context(), store.Filter{ID: id, Take: 1})
	if err != nil {
		h.Logger.Error().Err(err).Str("run_id", id).Msg("failed to get run")
		h.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if len(runs) == 0 {
		h.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	h.writeJSON(w, http.StatusOK, runs[0])
}

// saveRun records an externally reported run, for example from a wrapped
// crontab command. Missing identity and timing fields are filled in.
func (h *Handler) saveRun(w http.ResponseWriter, r *http.Request) {
	var run jobrun.JobRun
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if run.ID == "" {
		run.ID = jobrun.NewRunID()
	}
	if run.JobGroup == "" {
		run.JobGroup = "EXTERNAL"
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}
	if run.ScheduledTime.IsZero() {
		run.ScheduledTime = run.StartTime
	}
	if run.Status == "" {
		run.Status = jobrun.StatusSuccess
	}

	if err := h.Jobs.SaveJobRun(r.Context(), &run); err != nil {
		h.Logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to save run")
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, &run)
}
