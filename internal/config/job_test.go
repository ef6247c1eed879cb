package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseJobYAMLDefaults(t *testing.T) {
	t.Parallel()

	body := `
name: backup
command: /usr/local/bin/backup.sh
triggers:
  - cron: "0 3 * * *"
  - name: weekly
    group: MAINT
    cron: "0 4 * * 0"
    priority: 9
`
	job, err := ParseJobYAML([]byte(body))
	if err != nil {
		t.Fatalf("ParseJobYAML: %v", err)
	}

	if job.Group != DefaultGroup {
		t.Fatalf("expected default group, got %q", job.Group)
	}
	if !job.IsEnabled() {
		t.Fatal("expected job enabled by default")
	}
	if got, want := job.Triggers[0].Name, "backup-t1"; got != want {
		t.Fatalf("expected generated trigger name %q, got %q", want, got)
	}
	if job.Triggers[0].Group != DefaultGroup {
		t.Fatalf("expected default trigger group, got %q", job.Triggers[0].Group)
	}
	if job.Triggers[1].Name != "weekly" || job.Triggers[1].Group != "MAINT" || job.Triggers[1].Priority != 9 {
		t.Fatalf("unexpected second trigger: %+v", job.Triggers[1])
	}
}

func TestParseJobYAMLValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"missing name", "command: echo hi\n"},
		{"missing command", "name: x\n"},
		{"bad timeout", "name: x\ncommand: echo hi\ntimeout: fast\n"},
		{"trigger without cron", "name: x\ncommand: echo hi\ntriggers:\n  - name: t\n"},
	}
	for _, tc := range cases {
		if _, err := ParseJobYAML([]byte(tc.body)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseTimeout(t *testing.T) {
	t.Parallel()

	job := &Job{Timeout: "90s"}
	d, err := job.ParseTimeout()
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}

	empty := &Job{}
	d, err = empty.ParseTimeout()
	if err != nil || d != 0 {
		t.Fatalf("empty timeout: got %v, %v", d, err)
	}
}

func TestLoadJobs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"a.yaml":    "name: a\ncommand: echo a\n",
		"b.yml":     "name: b\ncommand: echo b\n",
		"skip.json": "{}",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	jobs, err := LoadJobs(dir)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.FilePath == "" {
			t.Fatalf("job %s missing file path", j.Name)
		}
	}
}
