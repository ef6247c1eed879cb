// Package listener bridges scheduler execution callbacks to the run store.
// Recording is best effort: a broken or slow store never blocks or fails a
// job execution.
package listener

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/realtime"
	"github.com/croneye/croneye/internal/scheduler"
	"github.com/croneye/croneye/internal/store"
)

// defaultSaveTimeout bounds each store write made from a scheduler worker.
const defaultSaveTimeout = 5 * time.Second

// RunRecorder is an ExecutionListener that writes run records in two phases:
// a Started record before the handler runs, upserted to its final status
// afterwards under the same ID. Refires reuse the ID, so a run that needed
// retries still ends up as a single record.
type RunRecorder struct {
	runs        store.RunStore
	events      *realtime.Broker // optional
	saveTimeout time.Duration
	logger      zerolog.Logger
}

// NewRunRecorder creates a RunRecorder. events may be nil if no realtime
// feed is wanted.
func NewRunRecorder(runs store.RunStore, events *realtime.Broker, saveTimeout time.Duration, logger zerolog.Logger) *RunRecorder {
	if saveTimeout <= 0 {
		saveTimeout = defaultSaveTimeout
	}
	return &RunRecorder{runs: runs, events: events, saveTimeout: saveTimeout, logger: logger}
}

var _ scheduler.ExecutionListener = (*RunRecorder)(nil)

// JobToBeExecuted writes the Started phase of the run record.
func (r *RunRecorder) JobToBeExecuted(fc *scheduler.FireContext) {
	run := r.buildRun(fc)
	run.Status = jobrun.StatusStarted
	r.save("record run start", run)
	r.publish(realtime.TypeRunStarted, run)
}

// JobExecutionVetoed writes a single-phase Vetoed record so vetoed firings
// remain visible in history.
func (r *RunRecorder) JobExecutionVetoed(fc *scheduler.FireContext) {
	run := r.buildRun(fc)
	run.Status = jobrun.StatusVetoed
	end := run.StartTime
	run.EndTime = &end
	r.save("record vetoed run", run)
	r.publish(realtime.TypeRunVetoed, run)
}

// JobWasExecuted upserts the run record with its outcome. Called once per
// attempt; the final attempt's write wins.
func (r *RunRecorder) JobWasExecuted(fc *scheduler.FireContext, execErr error) {
	run := r.buildRun(fc)
	run.Result = fc.Result
	run.Complete(time.Now().UTC(), execErr)
	r.save("record run outcome", run)
	r.publish(realtime.TypeRunCompleted, run)
}

// buildRun maps a fire context onto a run record. Manual firings have no
// scheduled time; the fire time stands in so time-range queries still match.
func (r *RunRecorder) buildRun(fc *scheduler.FireContext) *jobrun.JobRun {
	start := fc.FireTime
	if start.IsZero() {
		start = time.Now().UTC()
	}
	scheduled := fc.ScheduledTime
	if scheduled.IsZero() {
		scheduled = start
	}
	category := fc.Data.Text("category")
	if category == "" {
		category = fc.Detail.Category
	}

	return &jobrun.JobRun{
		ID:            fc.FireInstanceID,
		JobName:       fc.JobKey.Name,
		JobGroup:      fc.JobKey.Group,
		TriggerName:   fc.TriggerKey.Name,
		TriggerGroup:  fc.TriggerKey.Group,
		ScheduledTime: scheduled.UTC(),
		StartTime:     start.UTC(),
		RetryCount:    fc.RefireCount,
		Data:          fc.Data.Clone(),
		InstanceName:  fc.InstanceName,
		Priority:      fc.Priority,
		Category:      category,
		Description:   fc.Detail.Description,
	}
}

// save writes the record with a bounded timeout and swallows any error.
func (r *RunRecorder) save(op string, run *jobrun.JobRun) {
	ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
	defer cancel()

	if err := r.runs.SaveJobRun(ctx, run); err != nil {
		r.logger.Error().Err(err).
			Str("run_id", run.ID).
			Str("job", run.JobKey().String()).
			Msgf("failed to %s", op)
	}
}

func (r *RunRecorder) publish(eventType string, run *jobrun.JobRun) {
	if r.events == nil {
		return
	}
	r.events.Publish(realtime.Event{
		Type:     eventType,
		JobName:  run.JobName,
		JobGroup: run.JobGroup,
		RunID:    run.ID,
		Status:   string(run.Status),
		Trigger:  run.TriggerGroup + "." + run.TriggerName,
	})
}
