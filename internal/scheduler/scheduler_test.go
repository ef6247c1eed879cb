package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/croneye/croneye/internal/jobrun"
)

type callback struct {
	phase string // "before", "after", "vetoed"
	fc    FireContext
	err   error
}

// captureListener forwards every callback on a channel so tests can wait for
// firings without sleeping.
type captureListener struct {
	events chan callback
}

func newCaptureListener() *captureListener {
	return &captureListener{events: make(chan callback, 64)}
}

func (c *captureListener) JobToBeExecuted(fc *FireContext) {
	c.events <- callback{phase: "before", fc: *fc}
}

func (c *captureListener) JobExecutionVetoed(fc *FireContext) {
	c.events <- callback{phase: "vetoed", fc: *fc}
}

func (c *captureListener) JobWasExecuted(fc *FireContext, err error) {
	c.events <- callback{phase: "after", fc: *fc, err: err}
}

func (c *captureListener) next(t *testing.T) callback {
	t.Helper()
	select {
	case cb := <-c.events:
		return cb
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for listener callback")
		return callback{}
	}
}

type vetoAll struct{}

func (vetoAll) VetoJobExecution(*FireContext) bool { return true }

func testDetail(name string) JobDetail {
	return JobDetail{
		Key:  jobrun.JobKey{Name: name, Group: "DEFAULT"},
		Data: jobrun.DataMap{"source": jobrun.String("config")},
	}
}

func noopHandler(*FireContext) (string, error) { return "", nil }

func TestScheduleJobValidation(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())

	err := s.ScheduleJob(JobDetail{}, noopHandler)
	require.Error(t, err, "job without a name")

	err = s.ScheduleJob(testDetail("a"), nil)
	require.Error(t, err, "job without a handler")

	err = s.ScheduleJob(testDetail("a"), noopHandler, Trigger{
		Key:            jobrun.TriggerKey{Name: "t", Group: "DEFAULT"},
		CronExpression: "not a cron line",
	})
	require.Error(t, err, "invalid cron expression")
}

func TestTriggerNowFiresManually(t *testing.T) {
	t.Parallel()
	s := New("node-a", zerolog.Nop())
	lis := newCaptureListener()
	s.AddListener(lis)

	require.NoError(t, s.ScheduleJob(testDetail("export"), func(fc *FireContext) (string, error) {
		return "exported " + fc.Data.Text("batch"), nil
	}))

	overlay := jobrun.DataMap{"batch": jobrun.String("b-17")}
	require.NoError(t, s.TriggerNow(jobrun.JobKey{Name: "export", Group: "DEFAULT"}, overlay))

	before := lis.next(t)
	require.Equal(t, "before", before.phase)
	require.Equal(t, ManualTriggerGroup, before.fc.TriggerKey.Group)
	require.Equal(t, "export", before.fc.TriggerKey.Name)
	require.True(t, before.fc.ScheduledTime.IsZero())
	require.Equal(t, "node-a", before.fc.InstanceName)
	require.NotEmpty(t, before.fc.FireInstanceID)
	// Overlay merges on top of the job's own data.
	require.Equal(t, "config", before.fc.Data.Text("source"))
	require.Equal(t, "b-17", before.fc.Data.Text("batch"))

	after := lis.next(t)
	require.Equal(t, "after", after.phase)
	require.NoError(t, after.err)
	require.Equal(t, "exported b-17", after.fc.Result)
	require.Equal(t, before.fc.FireInstanceID, after.fc.FireInstanceID)
}

func TestTriggerNowUnknownJob(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	err := s.TriggerNow(jobrun.JobKey{Name: "ghost", Group: "DEFAULT"}, nil)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestRefireOnErrorKeepsFireInstance(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	lis := newCaptureListener()
	s.AddListener(lis)

	attempts := 0
	detail := testDetail("flaky")
	detail.MaxRetries = 3
	require.NoError(t, s.ScheduleJob(detail, func(*FireContext) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}))
	require.NoError(t, s.TriggerNow(detail.Key, nil))

	var seen []callback
	for i := 0; i < 6; i++ {
		seen = append(seen, lis.next(t))
	}

	// Three attempts, each wrapped in before/after, sharing one fire instance.
	id := seen[0].fc.FireInstanceID
	for attempt := 0; attempt < 3; attempt++ {
		before, after := seen[attempt*2], seen[attempt*2+1]
		require.Equal(t, "before", before.phase)
		require.Equal(t, "after", after.phase)
		require.Equal(t, id, before.fc.FireInstanceID)
		require.Equal(t, attempt, before.fc.RefireCount)
	}
	require.Error(t, seen[1].err)
	require.Error(t, seen[3].err)
	require.NoError(t, seen[5].err)
	require.Equal(t, "ok", seen[5].fc.Result)
}

func TestRefireStopsAtMaxRetries(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	lis := newCaptureListener()
	s.AddListener(lis)

	detail := testDetail("doomed")
	detail.MaxRetries = 1
	require.NoError(t, s.ScheduleJob(detail, func(*FireContext) (string, error) {
		return "", errors.New("always fails")
	}))
	require.NoError(t, s.TriggerNow(detail.Key, nil))

	// Initial attempt plus one refire, then it gives up.
	for i := 0; i < 4; i++ {
		lis.next(t)
	}
	select {
	case cb := <-lis.events:
		t.Fatalf("unexpected extra callback %q", cb.phase)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestVetoSkipsExecution(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	lis := newCaptureListener()
	s.AddListener(lis)
	s.AddVetoer(vetoAll{})

	executed := false
	require.NoError(t, s.ScheduleJob(testDetail("blocked"), func(*FireContext) (string, error) {
		executed = true
		return "", nil
	}))
	require.NoError(t, s.TriggerNow(jobrun.JobKey{Name: "blocked", Group: "DEFAULT"}, nil))

	cb := lis.next(t)
	require.Equal(t, "vetoed", cb.phase)
	require.False(t, executed)
}

func TestHandlerPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	lis := newCaptureListener()
	s.AddListener(lis)

	require.NoError(t, s.ScheduleJob(testDetail("panicky"), func(*FireContext) (string, error) {
		panic("nil map write")
	}))
	require.NoError(t, s.TriggerNow(jobrun.JobKey{Name: "panicky", Group: "DEFAULT"}, nil))

	require.Equal(t, "before", lis.next(t).phase)
	after := lis.next(t)
	require.Equal(t, "after", after.phase)
	require.Error(t, after.err)
	require.Contains(t, after.err.Error(), "panicked")
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())

	key := jobrun.JobKey{Name: "backup", Group: "DEFAULT"}
	detail := testDetail("backup")
	require.NoError(t, s.ScheduleJob(detail, noopHandler,
		Trigger{Key: jobrun.TriggerKey{Name: "hourly", Group: "DEFAULT"}, CronExpression: "0 * * * *"},
		Trigger{Key: jobrun.TriggerKey{Name: "daily", Group: "DEFAULT"}, CronExpression: "0 3 * * *"},
	))

	triggers := s.TriggersOf(key)
	require.Len(t, triggers, 2)
	for _, tr := range triggers {
		require.Equal(t, jobrun.TriggerStateNormal, tr.State)
		require.NotNil(t, tr.NextFireTime)
		require.Nil(t, tr.PreviousFireTime)
	}
	require.Equal(t, jobrun.JobStatusActive, jobrun.DeriveJobStatus(triggers))

	require.NoError(t, s.PauseJob(key))
	triggers = s.TriggersOf(key)
	for _, tr := range triggers {
		require.Equal(t, jobrun.TriggerStatePaused, tr.State)
	}
	require.Equal(t, jobrun.JobStatusPaused, jobrun.DeriveJobStatus(triggers))

	// Pausing an already-paused job is a no-op.
	require.NoError(t, s.PauseJob(key))

	require.NoError(t, s.ResumeJob(key))
	triggers = s.TriggersOf(key)
	for _, tr := range triggers {
		require.Equal(t, jobrun.TriggerStateNormal, tr.State)
		require.NotNil(t, tr.NextFireTime)
	}

	require.ErrorIs(t, s.PauseJob(jobrun.JobKey{Name: "ghost", Group: "DEFAULT"}), ErrJobNotFound)
	require.ErrorIs(t, s.ResumeJob(jobrun.JobKey{Name: "ghost", Group: "DEFAULT"}), ErrJobNotFound)
}

func TestTimerFiresDueTriggers(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	lis := newCaptureListener()
	s.AddListener(lis)

	key := jobrun.JobKey{Name: "tick", Group: "DEFAULT"}
	require.NoError(t, s.ScheduleJob(testDetail("tick"), noopHandler,
		Trigger{Key: jobrun.TriggerKey{Name: "fast", Group: "DEFAULT"}, CronExpression: "@every 1s"},
	))

	s.Start()
	defer s.Stop()

	before := lis.next(t)
	require.Equal(t, "before", before.phase)
	require.Equal(t, key, before.fc.JobKey)
	require.False(t, before.fc.ScheduledTime.IsZero())
	require.Equal(t, "after", lis.next(t).phase)

	triggers := s.TriggersOf(key)
	require.Len(t, triggers, 1)
	require.NotNil(t, triggers[0].PreviousFireTime)
}

func TestJobKeysAndDetail(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	require.NoError(t, s.ScheduleJob(testDetail("a"), noopHandler))
	require.NoError(t, s.ScheduleJob(testDetail("b"), noopHandler))

	keys := s.JobKeys()
	require.Len(t, keys, 2)

	detail, ok := s.JobDetail(jobrun.JobKey{Name: "a", Group: "DEFAULT"})
	require.True(t, ok)
	require.Equal(t, "a", detail.Key.Name)

	_, ok = s.JobDetail(jobrun.JobKey{Name: "ghost", Group: "DEFAULT"})
	require.False(t, ok)
}

func TestDefaultPriorityApplied(t *testing.T) {
	t.Parallel()
	s := New("test", zerolog.Nop())
	lis := newCaptureListener()
	s.AddListener(lis)

	require.NoError(t, s.ScheduleJob(testDetail("p"), noopHandler))
	require.NoError(t, s.TriggerNow(jobrun.JobKey{Name: "p", Group: "DEFAULT"}, nil))

	require.Equal(t, DefaultPriority, lis.next(t).fc.Priority)
}
