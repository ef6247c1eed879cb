package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "croneye.yaml")
	if err := os.WriteFile(cfgPath, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Fatalf("expected default listen :8080, got %q", cfg.Listen)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected default store driver sqlite, got %q", cfg.Store.Driver)
	}
	if want := filepath.Join("./data", "croneye.db"); cfg.Store.Path != want {
		t.Fatalf("expected default store path %q, got %q", want, cfg.Store.Path)
	}
	if cfg.Listener.SaveTimeout != 5*time.Second {
		t.Fatalf("expected default save timeout 5s, got %v", cfg.Listener.SaveTimeout)
	}
	if cfg.History.RetentionDays != 30 {
		t.Fatalf("expected default retention 30 days, got %d", cfg.History.RetentionDays)
	}
	if cfg.History.PurgeInterval != time.Hour {
		t.Fatalf("expected default purge interval 1h, got %v", cfg.History.PurgeInterval)
	}
	if cfg.InstanceName == "" {
		t.Fatal("expected instance name to default to the hostname")
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Fatalf("UserHomeDir unavailable for test: %v", err)
	}
	if want := filepath.Join(home, ".config", "croneye", "jobs"); cfg.JobsDir != want {
		t.Fatalf("expected default jobs_dir %q, got %q", want, cfg.JobsDir)
	}
}

func TestLoadExpandsTildePaths(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "croneye.yaml")
	body := `
data_dir: "~/croneye-data"
jobs_dir: "~/.config/croneye/jobs"
store:
  path: "~/croneye-data/runs.db"
`
	if err := os.WriteFile(cfgPath, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Fatalf("UserHomeDir unavailable for test: %v", err)
	}

	if got, want := cfg.DataDir, filepath.Join(home, "croneye-data"); got != want {
		t.Fatalf("expected expanded data_dir %q, got %q", want, got)
	}
	if got, want := cfg.Store.Path, filepath.Join(home, "croneye-data", "runs.db"); got != want {
		t.Fatalf("expected expanded store path %q, got %q", want, got)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "croneye.yaml")
	body := `
listen: ":9090"
instance_name: worker-7
log_level: debug
store:
  driver: postgres
  dsn: "postgres://localhost/croneye?sslmode=disable"
listener:
  save_timeout: 2s
history:
  retention_days: 7
  purge_interval: 15m
`
	if err := os.WriteFile(cfgPath, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != ":9090" || cfg.InstanceName != "worker-7" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN == "" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Listener.SaveTimeout != 2*time.Second {
		t.Fatalf("save_timeout: got %v", cfg.Listener.SaveTimeout)
	}
	if cfg.History.RetentionDays != 7 || cfg.History.PurgeInterval != 15*time.Minute {
		t.Fatalf("history: got %+v", cfg.History)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
