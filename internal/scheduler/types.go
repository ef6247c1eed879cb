package scheduler

import (
	"time"

	"github.com/croneye/croneye/internal/jobrun"
)

// Handler executes one firing of a job and returns a string rendering of the
// job's output. Handlers run on scheduler worker goroutines and may be
// invoked concurrently for different firings.
type Handler func(ctx *FireContext) (result string, err error)

// JobDetail describes a registered job.
type JobDetail struct {
	Key         jobrun.JobKey
	Description string
	Type        string
	Category    string
	Data        jobrun.DataMap
	MaxRetries  int
}

// Trigger defines one cron schedule attached to a job.
type Trigger struct {
	Key            jobrun.TriggerKey
	JobKey         jobrun.JobKey
	Description    string
	CronExpression string
	Priority       int
}

// FireContext carries everything one firing needs. Each firing gets its own
// value; nothing in it is shared across concurrent firings.
type FireContext struct {
	FireInstanceID string
	JobKey         jobrun.JobKey
	TriggerKey     jobrun.TriggerKey
	Detail         JobDetail

	// ScheduledTime is when the trigger was due to fire; zero for manual
	// firings that had no schedule.
	ScheduledTime time.Time
	// FireTime is when the current attempt actually started executing.
	FireTime time.Time

	Data         jobrun.DataMap
	Priority     int
	RefireCount  int
	InstanceName string
	Result       string
}

// ExecutionListener receives job lifecycle callbacks. Callbacks run on the
// firing's worker goroutine; implementations must not block for long and
// must not share mutable state across invocations.
type ExecutionListener interface {
	JobToBeExecuted(fc *FireContext)
	JobExecutionVetoed(fc *FireContext)
	JobWasExecuted(fc *FireContext, execErr error)
}

// Vetoer can stop a firing before it executes.
type Vetoer interface {
	VetoJobExecution(fc *FireContext) bool
}
