// Package jobrun defines the run-history data model shared by the store,
// the scheduler and the job store facade.
package jobrun

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunStatus is the lifecycle state of a run record. The string values are
// fixed at serialization boundaries.
type RunStatus string

const (
	StatusStarted RunStatus = "Started"
	StatusSuccess RunStatus = "Success"
	StatusFailed  RunStatus = "Failed"
	StatusVetoed  RunStatus = "Vetoed"
)

// IsTerminal reports whether the status can no longer change.
func (s RunStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusVetoed
}

// JobStatus is the derived operational state of a job.
type JobStatus string

const (
	JobStatusActive     JobStatus = "Active"
	JobStatusPaused     JobStatus = "Paused"
	JobStatusNoTriggers JobStatus = "No Triggers"
)

// TriggerState is the live scheduler state of one trigger.
type TriggerState string

const (
	TriggerStateNormal   TriggerState = "Normal"
	TriggerStatePaused   TriggerState = "Paused"
	TriggerStateComplete TriggerState = "Complete"
)

// JobKey identifies a job by name and group.
type JobKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// TriggerKey identifies a trigger by name and group.
type TriggerKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

// NewRunID generates a new ULID-based fire instance identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// JobRun is one execution attempt of one job. A run is written twice under
// the same ID: once in Started state at fire time, then updated with the
// outcome when execution ends.
type JobRun struct {
	ID           string `json:"id"`
	JobName      string `json:"job_name"`
	JobGroup     string `json:"job_group"`
	TriggerName  string `json:"trigger_name"`
	TriggerGroup string `json:"trigger_group"`

	ScheduledTime time.Time  `json:"scheduled_time"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	RunTimeMs     *int64     `json:"run_time_ms,omitempty"`

	Status       RunStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Result       string    `json:"result,omitempty"`
	RetryCount   int       `json:"retry_count"`

	Data         DataMap `json:"data,omitempty"`
	InstanceName string  `json:"instance_name,omitempty"`
	Priority     int     `json:"priority"`
	Category     string  `json:"category,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// JobKey returns the logical job identity of the run.
func (r *JobRun) JobKey() JobKey {
	return JobKey{Name: r.JobName, Group: r.JobGroup}
}

// Complete fills in the second-phase fields for a finished run.
func (r *JobRun) Complete(end time.Time, execErr error) {
	e := end.UTC()
	r.EndTime = &e
	ms := e.Sub(r.StartTime).Milliseconds()
	r.RunTimeMs = &ms
	if execErr != nil {
		r.Status = StatusFailed
		r.ErrorMessage = execErr.Error()
	} else {
		r.Status = StatusSuccess
	}
}

// JobRunStats aggregates run history for one job over an optional date range.
// Aggregation happens in the store, never in application memory.
type JobRunStats struct {
	TotalRuns    int64   `json:"total_runs"`
	SuccessCount int64   `json:"success_count"`
	FailureCount int64   `json:"failure_count"`
	AvgRunTimeMs float64 `json:"avg_run_time_ms"`
	MaxRunTimeMs int64   `json:"max_run_time_ms"`
	MinRunTimeMs int64   `json:"min_run_time_ms"`
}

// TriggerInfo is a point-in-time snapshot of one live trigger. Triggers are
// never persisted; this is always sourced from the scheduler.
type TriggerInfo struct {
	Name             string       `json:"name"`
	Group            string       `json:"group"`
	Description      string       `json:"description,omitempty"`
	CronExpression   string       `json:"cron_expression,omitempty"`
	NextFireTime     *time.Time   `json:"next_fire_time,omitempty"`
	PreviousFireTime *time.Time   `json:"previous_fire_time,omitempty"`
	State            TriggerState `json:"state"`
}

// JobInfo is the read-model merging live scheduler state with persisted
// history for one job. Computed per request, never stored.
type JobInfo struct {
	Name         string        `json:"name"`
	Group        string        `json:"group"`
	Description  string        `json:"description,omitempty"`
	Type         string        `json:"type,omitempty"`
	Status       JobStatus     `json:"status"`
	TriggerCount int           `json:"trigger_count"`
	Category     string        `json:"category,omitempty"`
	LastRun      *JobRun       `json:"last_run,omitempty"`
	LastRunStats *JobRunStats  `json:"last_run_stats,omitempty"`
	Triggers     []TriggerInfo `json:"triggers"`
}

// DeriveJobStatus computes the job status from its triggers: no triggers
// means "No Triggers", all paused means "Paused", any live trigger means
// the job can still fire and the job is "Active".
func DeriveJobStatus(triggers []TriggerInfo) JobStatus {
	if len(triggers) == 0 {
		return JobStatusNoTriggers
	}
	for _, t := range triggers {
		if t.State != TriggerStatePaused {
			return JobStatusActive
		}
	}
	return JobStatusPaused
}

// Validate checks the minimal integrity rules for a run record before it is
// handed to a store.
func (r *JobRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("job run: missing id")
	}
	if r.JobName == "" {
		return fmt.Errorf("job run %s: missing job name", r.ID)
	}
	if r.Status == "" {
		return fmt.Errorf("job run %s: missing status", r.ID)
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		return fmt.Errorf("job run %s: end time before start time", r.ID)
	}
	return nil
}
