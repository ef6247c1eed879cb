package jobrun

import (
	"errors"
	"testing"
	"time"
)

func TestDeriveJobStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		triggers []TriggerInfo
		want     JobStatus
	}{
		{"no triggers", nil, JobStatusNoTriggers},
		{"single active", []TriggerInfo{{State: TriggerStateNormal}}, JobStatusActive},
		{"all paused", []TriggerInfo{{State: TriggerStatePaused}, {State: TriggerStatePaused}}, JobStatusPaused},
		{"mixed", []TriggerInfo{{State: TriggerStatePaused}, {State: TriggerStateNormal}}, JobStatusActive},
		{"complete counts as active", []TriggerInfo{{State: TriggerStateComplete}}, JobStatusActive},
	}
	for _, tc := range cases {
		if got := DeriveJobStatus(tc.triggers); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestCompleteSuccess(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &JobRun{ID: "x", JobName: "j", Status: StatusStarted, StartTime: start}
	r.Complete(start.Add(2500*time.Millisecond), nil)

	if r.Status != StatusSuccess {
		t.Fatalf("got status %q, want Success", r.Status)
	}
	if r.RunTimeMs == nil || *r.RunTimeMs != 2500 {
		t.Fatalf("got run time %v, want 2500", r.RunTimeMs)
	}
	if r.EndTime == nil || !r.EndTime.Equal(start.Add(2500*time.Millisecond)) {
		t.Fatalf("unexpected end time %v", r.EndTime)
	}
}

func TestCompleteFailure(t *testing.T) {
	t.Parallel()

	r := &JobRun{ID: "x", JobName: "j", Status: StatusStarted, StartTime: time.Now().UTC()}
	r.Complete(time.Now().UTC(), errors.New("exit code 2: disk full"))

	if r.Status != StatusFailed {
		t.Fatalf("got status %q, want Failed", r.Status)
	}
	if r.ErrorMessage != "exit code 2: disk full" {
		t.Fatalf("got error message %q", r.ErrorMessage)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	start := time.Now().UTC()
	end := start.Add(-time.Minute)
	cases := []struct {
		name    string
		run     JobRun
		wantErr bool
	}{
		{"valid", JobRun{ID: "a", JobName: "j", Status: StatusStarted, StartTime: start}, false},
		{"missing id", JobRun{JobName: "j", Status: StatusStarted}, true},
		{"missing job name", JobRun{ID: "a", Status: StatusStarted}, true},
		{"missing status", JobRun{ID: "a", JobName: "j"}, true},
		{"end before start", JobRun{ID: "a", JobName: "j", Status: StatusFailed, StartTime: start, EndTime: &end}, true},
	}
	for _, tc := range cases {
		err := tc.run.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: got err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestRunStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if StatusStarted.IsTerminal() {
		t.Fatal("Started must not be terminal")
	}
	for _, s := range []RunStatus{StatusSuccess, StatusFailed, StatusVetoed} {
		if !s.IsTerminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}
