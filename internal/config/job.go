package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultGroup is used when a job or trigger definition omits its group.
const DefaultGroup = "DEFAULT"

// TriggerDef is one cron trigger attached to a job definition.
type TriggerDef struct {
	Name        string `yaml:"name" json:"name"`
	Group       string `yaml:"group" json:"group,omitempty"`
	Cron        string `yaml:"cron" json:"cron"`
	Description string `yaml:"description" json:"description,omitempty"`
	Priority    int    `yaml:"priority" json:"priority,omitempty"`
}

// Job is the definition of a single job parsed from a YAML file. A job may
// carry any number of triggers, including none.
type Job struct {
	Name        string            `yaml:"name" json:"name"`
	Group       string            `yaml:"group" json:"group,omitempty"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Category    string            `yaml:"category" json:"category,omitempty"`
	Command     string            `yaml:"command" json:"command"`
	WorkingDir  string            `yaml:"working_dir" json:"working_dir,omitempty"`
	Timeout     string            `yaml:"timeout" json:"timeout,omitempty"`
	MaxRetries  int               `yaml:"max_retries" json:"max_retries,omitempty"`
	Env         map[string]string `yaml:"env" json:"env,omitempty"`
	Data        map[string]any    `yaml:"data" json:"data,omitempty"`
	Enabled     *bool             `yaml:"enabled" json:"enabled,omitempty"`
	Triggers    []TriggerDef      `yaml:"triggers" json:"triggers,omitempty"`
	FilePath    string            `yaml:"-" json:"-"`
}

// IsEnabled returns whether the job is enabled. Defaults to true if not set.
func (j *Job) IsEnabled() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

// ParseTimeout parses the Timeout string into a time.Duration.
// Returns 0 if the timeout is empty.
func (j *Job) ParseTimeout() (time.Duration, error) {
	if j.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(j.Timeout)
}

// Validate checks that the definition is usable.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job has no name")
	}
	if strings.TrimSpace(j.Command) == "" {
		return fmt.Errorf("job %s: no command", j.Name)
	}
	if _, err := j.ParseTimeout(); err != nil {
		return fmt.Errorf("job %s: invalid timeout: %w", j.Name, err)
	}
	for _, t := range j.Triggers {
		if strings.TrimSpace(t.Cron) == "" {
			return fmt.Errorf("job %s: trigger %s has no cron expression", j.Name, t.Name)
		}
	}
	return nil
}

func applyJobDefaults(j *Job) {
	if j.Group == "" {
		j.Group = DefaultGroup
	}
	for i := range j.Triggers {
		if j.Triggers[i].Name == "" {
			j.Triggers[i].Name = fmt.Sprintf("%s-t%d", j.Name, i+1)
		}
		if j.Triggers[i].Group == "" {
			j.Triggers[i].Group = DefaultGroup
		}
	}
}

// ParseJobYAML parses a single job YAML payload and applies defaults.
func ParseJobYAML(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	applyJobDefaults(&job)
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// LoadJobs reads all *.yaml files from dir, parses each into a Job,
// and returns the collected jobs.
func LoadJobs(dir string) ([]*Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var jobs []*Job
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		job, err := ParseJobYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}

		job.FilePath = path
		jobs = append(jobs, job)
	}

	return jobs, nil
}
