package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/realtime"
	"github.com/croneye/croneye/internal/scheduler"
	"github.com/croneye/croneye/internal/store"
)

// recordingStore captures saves and can be configured to fail.
type recordingStore struct {
	mu      sync.Mutex
	saves   []*jobrun.JobRun
	saveErr error
}

func (r *recordingStore) SaveJobRun(_ context.Context, run *jobrun.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *run
	r.saves = append(r.saves, &cp)
	return nil
}

func (r *recordingStore) ListJobRuns(context.Context, store.Filter) ([]*jobrun.JobRun, error) {
	return nil, nil
}

func (r *recordingStore) GetJobRunStats(context.Context, jobrun.JobKey, *time.Time, *time.Time) (*jobrun.JobRunStats, error) {
	return &jobrun.JobRunStats{}, nil
}

func (r *recordingStore) PurgeJobRuns(context.Context, jobrun.JobKey, time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingStore) all() []*jobrun.JobRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*jobrun.JobRun(nil), r.saves...)
}

func newFireContext() *scheduler.FireContext {
	scheduled := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &scheduler.FireContext{
		FireInstanceID: "fire-1",
		JobKey:         jobrun.JobKey{Name: "backup", Group: "DEFAULT"},
		TriggerKey:     jobrun.TriggerKey{Name: "nightly", Group: "DEFAULT"},
		Detail: scheduler.JobDetail{
			Key:         jobrun.JobKey{Name: "backup", Group: "DEFAULT"},
			Description: "nightly backup",
			Category:    "maintenance",
		},
		ScheduledTime: scheduled,
		FireTime:      scheduled.Add(20 * time.Millisecond),
		Priority:      5,
		InstanceName:  "node-a",
	}
}

func TestTwoPhaseRecordingSharesID(t *testing.T) {
	t.Parallel()
	rs := &recordingStore{}
	rec := NewRunRecorder(rs, nil, 0, zerolog.Nop())
	fc := newFireContext()

	rec.JobToBeExecuted(fc)
	fc.Result = "done"
	rec.JobWasExecuted(fc, nil)

	saves := rs.all()
	require.Len(t, saves, 2)

	started, finished := saves[0], saves[1]
	require.Equal(t, started.ID, finished.ID, "both phases must target one record")
	require.Equal(t, jobrun.StatusStarted, started.Status)
	require.Nil(t, started.EndTime)

	require.Equal(t, jobrun.StatusSuccess, finished.Status)
	require.Equal(t, "done", finished.Result)
	require.NotNil(t, finished.EndTime)
	require.NotNil(t, finished.RunTimeMs)
	require.True(t, *finished.RunTimeMs >= 0)
	require.True(t, finished.StartTime.Equal(fc.FireTime))
	require.True(t, finished.ScheduledTime.Equal(fc.ScheduledTime))
	require.Equal(t, "maintenance", finished.Category)
	require.Equal(t, "node-a", finished.InstanceName)
}

func TestFailedExecutionRecordsError(t *testing.T) {
	t.Parallel()
	rs := &recordingStore{}
	rec := NewRunRecorder(rs, nil, 0, zerolog.Nop())
	fc := newFireContext()
	fc.RefireCount = 2

	rec.JobToBeExecuted(fc)
	rec.JobWasExecuted(fc, errors.New("exit code 1: boom"))

	saves := rs.all()
	require.Len(t, saves, 2)
	final := saves[1]
	require.Equal(t, jobrun.StatusFailed, final.Status)
	require.Equal(t, "exit code 1: boom", final.ErrorMessage)
	require.Equal(t, 2, final.RetryCount)
}

func TestStoreFailureNeverEscapes(t *testing.T) {
	t.Parallel()
	rs := &recordingStore{saveErr: errors.New("database is locked")}
	rec := NewRunRecorder(rs, nil, 0, zerolog.Nop())
	fc := newFireContext()

	// Callbacks run on scheduler worker goroutines; a panic or error here
	// would break job execution.
	require.NotPanics(t, func() {
		rec.JobToBeExecuted(fc)
		rec.JobExecutionVetoed(fc)
		rec.JobWasExecuted(fc, nil)
	})
}

func TestVetoedFiringGetsSingleRecord(t *testing.T) {
	t.Parallel()
	rs := &recordingStore{}
	rec := NewRunRecorder(rs, nil, 0, zerolog.Nop())
	fc := newFireContext()
	fc.FireTime = time.Time{} // veto happens before any attempt starts

	rec.JobExecutionVetoed(fc)

	saves := rs.all()
	require.Len(t, saves, 1)
	require.Equal(t, jobrun.StatusVetoed, saves[0].Status)
	require.NotNil(t, saves[0].EndTime)
	require.False(t, saves[0].StartTime.IsZero())
}

func TestManualFiringFallsBackToFireTime(t *testing.T) {
	t.Parallel()
	rs := &recordingStore{}
	rec := NewRunRecorder(rs, nil, 0, zerolog.Nop())
	fc := newFireContext()
	fc.ScheduledTime = time.Time{}

	rec.JobToBeExecuted(fc)

	saves := rs.all()
	require.Len(t, saves, 1)
	require.True(t, saves[0].ScheduledTime.Equal(fc.FireTime))
}

func TestRecorderPublishesEvents(t *testing.T) {
	t.Parallel()
	rs := &recordingStore{}
	broker := realtime.NewBroker()
	events, cancel := broker.Subscribe()
	defer cancel()

	rec := NewRunRecorder(rs, broker, 0, zerolog.Nop())
	fc := newFireContext()
	rec.JobToBeExecuted(fc)
	rec.JobWasExecuted(fc, nil)

	first := <-events
	require.Equal(t, realtime.TypeRunStarted, first.Type)
	require.Equal(t, "backup", first.JobName)
	second := <-events
	require.Equal(t, realtime.TypeRunCompleted, second.Type)
	require.Equal(t, string(jobrun.StatusSuccess), second.Status)
}
