// Package jobstore is the read/control facade over the live scheduler and
// the run store. It produces the merged job view served by the API and CLI
// and routes control operations (trigger, pause, resume, purge) to the right
// backend.
package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/realtime"
	"github.com/croneye/croneye/internal/scheduler"
	"github.com/croneye/croneye/internal/store"
)

// defaultFanout bounds how many jobs are enriched concurrently in GetJobs.
const defaultFanout = 8

// SchedulerClient is the slice of the scheduler the facade needs. The live
// *scheduler.Scheduler satisfies it.
type SchedulerClient interface {
	JobKeys() []jobrun.JobKey
	JobDetail(key jobrun.JobKey) (scheduler.JobDetail, bool)
	TriggersOf(key jobrun.JobKey) []jobrun.TriggerInfo
	TriggerNow(key jobrun.JobKey, data jobrun.DataMap) error
	PauseJob(key jobrun.JobKey) error
	ResumeJob(key jobrun.JobKey) error
}

// Store merges scheduler state and run history into JobInfo views.
type Store struct {
	sched  SchedulerClient
	runs   store.RunStore
	events *realtime.Broker // optional
	logger zerolog.Logger
	fanout int
}

// New creates a Store. events may be nil.
func New(sched SchedulerClient, runs store.RunStore, events *realtime.Broker, logger zerolog.Logger) *Store {
	return &Store{
		sched:  sched,
		runs:   runs,
		events: events,
		logger: logger,
		fanout: defaultFanout,
	}
}

// GetJobs returns the merged view of every registered job, sorted by group
// then name. Enrichment queries run concurrently with a bounded fan-out.
func (s *Store) GetJobs(ctx context.Context) ([]*jobrun.JobInfo, error) {
	keys := s.sched.JobKeys()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Group != keys[j].Group {
			return keys[i].Group < keys[j].Group
		}
		return keys[i].Name < keys[j].Name
	})

	infos := make([]*jobrun.JobInfo, len(keys))
	errs := make([]error, len(keys))
	sem := make(chan struct{}, s.fanout)
	var wg sync.WaitGroup

	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, key jobrun.JobKey) {
			defer wg.Done()
			defer func() { <-sem }()
			infos[i], errs[i] = s.GetJob(ctx, key)
		}(i, key)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	// Jobs unscheduled mid-listing come back nil; drop them.
	out := infos[:0]
	for _, info := range infos {
		if info != nil {
			out = append(out, info)
		}
	}
	return out, nil
}

// GetJob returns the merged view of one job, or (nil, nil) when the
// scheduler does not know the job. Store read failures propagate.
func (s *Store) GetJob(ctx context.Context, key jobrun.JobKey) (*jobrun.JobInfo, error) {
	detail, ok := s.sched.JobDetail(key)
	if !ok {
		return nil, nil
	}
	triggers := s.sched.TriggersOf(key)

	lastRuns, err := s.runs.ListJobRuns(ctx, store.Filter{
		JobName:  key.Name,
		JobGroup: key.Group,
		Take:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("last run for %s: %w", key, err)
	}
	stats, err := s.runs.GetJobRunStats(ctx, key, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("run stats for %s: %w", key, err)
	}

	info := &jobrun.JobInfo{
		Name:         key.Name,
		Group:        key.Group,
		Description:  detail.Description,
		Type:         detail.Type,
		Status:       jobrun.DeriveJobStatus(triggers),
		TriggerCount: len(triggers),
		Category:     detail.Category,
		LastRunStats: stats,
		Triggers:     triggers,
	}
	if len(lastRuns) > 0 {
		info.LastRun = lastRuns[0]
	}
	return info, nil
}

// GetTriggers returns live trigger snapshots for one job.
func (s *Store) GetTriggers(_ context.Context, key jobrun.JobKey) ([]jobrun.TriggerInfo, error) {
	if _, ok := s.sched.JobDetail(key); !ok {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, key)
	}
	return s.sched.TriggersOf(key), nil
}

// GetJobRuns queries run history.
func (s *Store) GetJobRuns(ctx context.Context, f store.Filter) ([]*jobrun.JobRun, error) {
	s.logger.Debug().
		Str("job_name", f.JobName).
		Str("job_group", f.JobGroup).
		Str("status", string(f.Status)).
		Int("take", f.Take).
		Msg("listing job runs")
	return s.runs.ListJobRuns(ctx, f)
}

// GetJobRunStats returns aggregate run statistics for one job.
func (s *Store) GetJobRunStats(ctx context.Context, key jobrun.JobKey, from, to *time.Time) (*jobrun.JobRunStats, error) {
	return s.runs.GetJobRunStats(ctx, key, from, to)
}

// SaveJobRun persists an administratively supplied run record, for example
// one reported by an external wrapper process.
func (s *Store) SaveJobRun(ctx context.Context, run *jobrun.JobRun) error {
	return s.runs.SaveJobRun(ctx, run)
}

// TriggerJob fires the job immediately with an optional data overlay.
func (s *Store) TriggerJob(ctx context.Context, key jobrun.JobKey, data jobrun.DataMap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sched.TriggerNow(key, data); err != nil {
		return err
	}
	s.logger.Info().Str("job", key.String()).Msg("job triggered manually")
	s.publish(realtime.TypeJobTriggered, key)
	return nil
}

// PauseJob pauses all of the job's triggers.
func (s *Store) PauseJob(ctx context.Context, key jobrun.JobKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sched.PauseJob(key); err != nil {
		return err
	}
	s.logger.Info().Str("job", key.String()).Msg("job paused")
	s.publish(realtime.TypeJobPaused, key)
	return nil
}

// ResumeJob resumes the job's paused triggers.
func (s *Store) ResumeJob(ctx context.Context, key jobrun.JobKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sched.ResumeJob(key); err != nil {
		return err
	}
	s.logger.Info().Str("job", key.String()).Msg("job resumed")
	s.publish(realtime.TypeJobResumed, key)
	return nil
}

// PurgeJobRuns deletes the job's run history older than the cutoff.
func (s *Store) PurgeJobRuns(ctx context.Context, key jobrun.JobKey, olderThan time.Time) (int64, error) {
	n, err := s.runs.PurgeJobRuns(ctx, key, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Str("job", key.String()).Int64("purged", n).Time("older_than", olderThan).Msg("purged job runs")
	}
	return n, nil
}

func (s *Store) publish(eventType string, key jobrun.JobKey) {
	if s.events == nil {
		return
	}
	s.events.Publish(realtime.Event{
		Type:     eventType,
		JobName:  key.Name,
		JobGroup: key.Group,
	})
}
