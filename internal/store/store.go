// Package store persists and queries job run records. Implementations must
// support the two-phase write of a run (insert as Started, later update by
// ID with the outcome) as a single upsert operation.
package store

import (
	"context"
	"time"

	"github.com/croneye/croneye/internal/jobrun"
)

// Filter narrows a run query. All set fields are combined with AND.
// Zero values mean "no restriction" except JobName/JobGroup which scope the
// query to one job when set.
type Filter struct {
	ID             string
	JobName        string
	JobGroup       string
	From           *time.Time
	To             *time.Time
	Status         jobrun.RunStatus
	Priority       *int
	InstanceName   string
	ResultContains string
	Take           int
}

// RunStore is the persistence provider contract for run records.
//
// ListJobRuns returns matches ordered by start time descending, ties broken
// by ID descending, so results are deterministic for equal timestamps.
//
// GetJobRunStats computes aggregates inside the backing store; history can
// grow unbounded and must never be aggregated in application memory.
//
// PurgeJobRuns deletes records for the job whose start time is older than
// the cutoff and reports how many rows were removed. It is safe to run
// concurrently with saves for the same job; a run started right at the
// cutoff may or may not survive a concurrent purge.
type RunStore interface {
	SaveJobRun(ctx context.Context, run *jobrun.JobRun) error
	ListJobRuns(ctx context.Context, f Filter) ([]*jobrun.JobRun, error)
	GetJobRunStats(ctx context.Context, key jobrun.JobKey, from, to *time.Time) (*jobrun.JobRunStats, error)
	PurgeJobRuns(ctx context.Context, key jobrun.JobKey, olderThan time.Time) (int64, error)
}
