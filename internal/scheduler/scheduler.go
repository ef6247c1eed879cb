// Package scheduler is the live in-process scheduler: it owns the
// registered jobs and triggers, fires due triggers from a min-heap on a
// single timer goroutine, and runs each firing on its own worker goroutine.
package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/croneye/croneye/internal/jobrun"
)

// DefaultPriority is assigned to triggers that do not set one and to manual
// firings.
const DefaultPriority = 5

// ManualTriggerGroup marks firings requested through TriggerNow rather than
// a registered trigger.
const ManualTriggerGroup = "MANUAL"

var (
	ErrJobNotFound     = errors.New("scheduler: job not found")
	ErrTriggerNotFound = errors.New("scheduler: trigger not found")
)

// entry represents a scheduled trigger in the heap.
type entry struct {
	triggerKey jobrun.TriggerKey
	nextRun    time.Time
}

// entryHeap is a min-heap of entries ordered by nextRun (earliest first).
type entryHeap []entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].nextRun.Before(h[j].nextRun) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type registeredJob struct {
	detail  JobDetail
	handler Handler
}

type liveTrigger struct {
	def      Trigger
	schedule cron.Schedule
	state    jobrun.TriggerState
	nextFire time.Time
	prevFire time.Time // zero until the first firing
}

// Scheduler manages jobs and triggers using a min-heap and a single timer
// goroutine. One Scheduler instance is the process's logical scheduler
// singleton, identified by its instance name.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[jobrun.JobKey]*registeredJob
	triggers map[jobrun.TriggerKey]*liveTrigger
	heap     entryHeap
	timer    *time.Timer
	done     chan struct{}
	reset    chan struct{} // signals the goroutine to re-read the timer
	wg       sync.WaitGroup
	fireWG   sync.WaitGroup

	instanceName string
	logger       zerolog.Logger

	// Registered before Start; read without the lock by firing goroutines.
	listeners []ExecutionListener
	vetoers   []Vetoer
}

// New creates a Scheduler identified by instanceName.
func New(instanceName string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		jobs:         make(map[jobrun.JobKey]*registeredJob),
		triggers:     make(map[jobrun.TriggerKey]*liveTrigger),
		done:         make(chan struct{}),
		reset:        make(chan struct{}, 1),
		instanceName: instanceName,
		logger:       logger,
	}
}

// InstanceName returns the scheduler's process instance identifier.
func (s *Scheduler) InstanceName() string {
	return s.instanceName
}

// AddListener registers an execution listener. Must be called before Start.
func (s *Scheduler) AddListener(l ExecutionListener) {
	s.listeners = append(s.listeners, l)
}

// AddVetoer registers a veto hook. Must be called before Start.
func (s *Scheduler) AddVetoer(v Vetoer) {
	s.vetoers = append(s.vetoers, v)
}

// ScheduleJob registers a job with its handler and triggers. Registering a
// job key that already exists replaces the previous registration and its
// triggers.
func (s *Scheduler) ScheduleJob(detail JobDetail, handler Handler, triggers ...Trigger) error {
	if detail.Key.Name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	if handler == nil {
		return fmt.Errorf("scheduler: job %s has no handler", detail.Key)
	}

	parsed := make([]cron.Schedule, len(triggers))
	for i, t := range triggers {
		if t.CronExpression == "" {
			return fmt.Errorf("scheduler: trigger %s has no cron expression", t.Key)
		}
		schedule, err := ParseSchedule(t.CronExpression)
		if err != nil {
			return fmt.Errorf("scheduler: trigger %s: %w", t.Key, err)
		}
		parsed[i] = schedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeJobLocked(detail.Key)
	s.jobs[detail.Key] = &registeredJob{detail: detail, handler: handler}

	now := time.Now()
	for i, t := range triggers {
		t.JobKey = detail.Key
		if t.Priority == 0 {
			t.Priority = DefaultPriority
		}
		lt := &liveTrigger{
			def:      t,
			schedule: parsed[i],
			state:    jobrun.TriggerStateNormal,
			nextFire: NextTime(parsed[i], now),
		}
		s.triggers[t.Key] = lt
		heap.Push(&s.heap, entry{triggerKey: t.Key, nextRun: lt.nextFire})
	}
	s.resetTimerLocked()
	return nil
}

// UnscheduleJob removes a job and all of its triggers.
func (s *Scheduler) UnscheduleJob(key jobrun.JobKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobLocked(key)
	s.resetTimerLocked()
}

// removeJobLocked removes the job and its triggers. Caller must hold s.mu.
func (s *Scheduler) removeJobLocked(key jobrun.JobKey) {
	delete(s.jobs, key)
	for tk, lt := range s.triggers {
		if lt.def.JobKey == key {
			delete(s.triggers, tk)
			s.removeEntryLocked(tk)
		}
	}
}

// removeEntryLocked removes the heap entry for the trigger, if present.
// Caller must hold s.mu.
func (s *Scheduler) removeEntryLocked(tk jobrun.TriggerKey) {
	for i, e := range s.heap {
		if e.triggerKey == tk {
			heap.Remove(&s.heap, i)
			return
		}
	}
}

// JobKeys returns the keys of all registered jobs.
func (s *Scheduler) JobKeys() []jobrun.JobKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]jobrun.JobKey, 0, len(s.jobs))
	for k := range s.jobs {
		keys = append(keys, k)
	}
	return keys
}

// JobDetail returns the detail of the registered job, if any.
func (s *Scheduler) JobDetail(key jobrun.JobKey) (JobDetail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[key]
	if !ok {
		return JobDetail{}, false
	}
	return rj.detail, true
}

// TriggersOf returns live snapshots of the job's triggers.
func (s *Scheduler) TriggersOf(key jobrun.JobKey) []jobrun.TriggerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var infos []jobrun.TriggerInfo
	for _, lt := range s.triggers {
		if lt.def.JobKey != key {
			continue
		}
		info := jobrun.TriggerInfo{
			Name:           lt.def.Key.Name,
			Group:          lt.def.Key.Group,
			Description:    lt.def.Description,
			CronExpression: lt.def.CronExpression,
			State:          lt.state,
		}
		if !lt.nextFire.IsZero() {
			t := lt.nextFire
			info.NextFireTime = &t
		}
		if !lt.prevFire.IsZero() {
			t := lt.prevFire
			info.PreviousFireTime = &t
		}
		infos = append(infos, info)
	}
	return infos
}

// TriggerState returns the live state of one trigger.
func (s *Scheduler) TriggerState(tk jobrun.TriggerKey) (jobrun.TriggerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lt, ok := s.triggers[tk]
	if !ok {
		return "", false
	}
	return lt.state, true
}

// PauseJob pauses all of the job's triggers. Pausing an already-paused job
// is a no-op.
func (s *Scheduler) PauseJob(key jobrun.JobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[key]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	for tk, lt := range s.triggers {
		if lt.def.JobKey != key || lt.state != jobrun.TriggerStateNormal {
			continue
		}
		lt.state = jobrun.TriggerStatePaused
		s.removeEntryLocked(tk)
	}
	s.resetTimerLocked()
	return nil
}

// ResumeJob resumes all paused triggers of the job. Resuming a job with no
// paused triggers is a no-op.
func (s *Scheduler) ResumeJob(key jobrun.JobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[key]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	now := time.Now()
	for tk, lt := range s.triggers {
		if lt.def.JobKey != key || lt.state != jobrun.TriggerStatePaused {
			continue
		}
		lt.state = jobrun.TriggerStateNormal
		lt.nextFire = NextTime(lt.schedule, now)
		heap.Push(&s.heap, entry{triggerKey: tk, nextRun: lt.nextFire})
	}
	s.resetTimerLocked()
	return nil
}

// TriggerNow fires the job immediately on a worker goroutine. The optional
// data overlay augments the job's own parameters for this firing only. No
// run record is written here; that is the execution listeners' concern.
func (s *Scheduler) TriggerNow(key jobrun.JobKey, data jobrun.DataMap) error {
	s.mu.Lock()
	rj, ok := s.jobs[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	fc := s.newFireContextLocked(rj, jobrun.TriggerKey{Name: key.Name, Group: ManualTriggerGroup}, time.Time{}, DefaultPriority, data)
	s.fireWG.Add(1)
	s.mu.Unlock()

	go s.runFiring(fc, rj.handler)
	return nil
}

// newFireContextLocked builds an independent FireContext for one firing.
// Caller must hold s.mu.
func (s *Scheduler) newFireContextLocked(rj *registeredJob, tk jobrun.TriggerKey, scheduled time.Time, priority int, overlay jobrun.DataMap) *FireContext {
	return &FireContext{
		FireInstanceID: jobrun.NewRunID(),
		JobKey:         rj.detail.Key,
		TriggerKey:     tk,
		Detail:         rj.detail,
		ScheduledTime:  scheduled,
		Data:           rj.detail.Data.Merged(overlay),
		Priority:       priority,
		InstanceName:   s.instanceName,
	}
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	// Create a stopped timer; it will be set properly by resetTimerLocked.
	s.timer = time.NewTimer(0)
	if !s.timer.Stop() {
		<-s.timer.C
	}
	s.resetTimerLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop signals the scheduler goroutine to exit and waits for it and for all
// in-flight firings.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	s.fireWG.Wait()
}

// run is the main scheduler loop.
func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.mu.Lock()
			s.timer.Stop()
			s.mu.Unlock()
			return
		case <-s.reset:
			// Timer was reset externally; loop back to wait on the
			// updated timer.
			continue
		case <-s.timer.C:
			s.fireDue()
		}
	}
}

// fireDue pops every due trigger, advances it, and dispatches its firing.
func (s *Scheduler) fireDue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for s.heap.Len() > 0 && !s.heap[0].nextRun.After(now) {
		e := heap.Pop(&s.heap).(entry)

		lt, ok := s.triggers[e.triggerKey]
		if !ok || lt.state != jobrun.TriggerStateNormal {
			continue
		}
		rj, ok := s.jobs[lt.def.JobKey]
		if !ok {
			continue
		}

		lt.prevFire = e.nextRun
		next := NextTime(lt.schedule, now)
		if next.IsZero() {
			lt.state = jobrun.TriggerStateComplete
			lt.nextFire = time.Time{}
		} else {
			lt.nextFire = next
			heap.Push(&s.heap, entry{triggerKey: e.triggerKey, nextRun: next})
		}

		fc := s.newFireContextLocked(rj, lt.def.Key, e.nextRun, lt.def.Priority, nil)
		s.fireWG.Add(1)
		go s.runFiring(fc, rj.handler)
	}
	s.resetTimerLocked()
}

// runFiring executes one firing: veto check, then attempt loop with refires
// up to the job's MaxRetries. Listener callbacks surround every attempt.
func (s *Scheduler) runFiring(fc *FireContext, h Handler) {
	defer s.fireWG.Done()

	for _, v := range s.vetoers {
		if v.VetoJobExecution(fc) {
			s.logger.Info().Str("job", fc.JobKey.String()).Str("run_id", fc.FireInstanceID).Msg("job execution vetoed")
			for _, l := range s.listeners {
				l.JobExecutionVetoed(fc)
			}
			return
		}
	}

	for {
		fc.FireTime = time.Now().UTC()
		for _, l := range s.listeners {
			l.JobToBeExecuted(fc)
		}

		result, err := invokeHandler(h, fc)
		fc.Result = result

		for _, l := range s.listeners {
			l.JobWasExecuted(fc, err)
		}

		if err == nil {
			return
		}
		if fc.RefireCount >= fc.Detail.MaxRetries {
			s.logger.Error().Err(err).
				Str("job", fc.JobKey.String()).
				Str("run_id", fc.FireInstanceID).
				Int("retries", fc.RefireCount).
				Msg("job execution failed")
			return
		}
		fc.RefireCount++
	}
}

// invokeHandler converts handler panics into errors so one misbehaving job
// cannot take down the scheduler worker.
func invokeHandler(h Handler, fc *FireContext) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(fc)
}

// resetTimerLocked resets the timer to fire at the earliest entry's nextRun.
// Caller must hold s.mu. Safe to call before Start (timer may be nil).
func (s *Scheduler) resetTimerLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	if s.heap.Len() == 0 {
		return
	}
	d := time.Until(s.heap[0].nextRun)
	if d < 0 {
		d = 0
	}
	s.timer.Reset(d)

	// Non-blocking send to wake the goroutine so it re-selects on the new timer.
	select {
	case s.reset <- struct{}{}:
	default:
	}
}
