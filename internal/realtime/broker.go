// Package realtime is an in-memory event bus feeding SSE subscribers.
package realtime

import (
	"sync"
	"time"
)

// Event types published by the scheduler subsystem.
const (
	TypeRunStarted   = "run.started"
	TypeRunCompleted = "run.completed"
	TypeRunVetoed    = "run.vetoed"
	TypeJobPaused    = "job.paused"
	TypeJobResumed   = "job.resumed"
	TypeJobTriggered = "job.triggered"
)

// Event is a server-side realtime event pushed to subscribers.
type Event struct {
	ID       int64     `json:"id"`
	Type     string    `json:"type"`
	JobName  string    `json:"job_name,omitempty"`
	JobGroup string    `json:"job_group,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Trigger  string    `json:"trigger,omitempty"`
	At       time.Time `json:"at"`
}

// Broker fans events out to subscribers. Publishing never blocks; slow
// subscribers drop events.
type Broker struct {
	mu      sync.Mutex
	eventID int64
	subID   int64
	subs    map[int64]chan Event
}

// NewBroker creates a Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]chan Event)}
}

// Publish broadcasts an event to all active subscribers.
func (b *Broker) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventID++
	evt.ID = b.eventID
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its event channel and a
// cancel func. Cancel is idempotent.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subID++
	id := b.subID
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}
