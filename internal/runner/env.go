package runner

import (
	"os"
	"strings"
)

// BuildEnv constructs the child environment: the current process environment
// overlaid with job-specific variables, plus CRONEYE_* firing metadata.
func BuildEnv(extra map[string]string, meta Meta) []string {
	envMap := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			envMap[k] = v
		}
	}

	for k, v := range extra {
		envMap[k] = v
	}

	envMap["CRONEYE_JOB_NAME"] = meta.JobName
	envMap["CRONEYE_JOB_GROUP"] = meta.JobGroup
	envMap["CRONEYE_TRIGGER"] = meta.Trigger
	envMap["CRONEYE_RUN_ID"] = meta.RunID

	out := make([]string, 0, len(envMap))
	for k, v := range envMap {
		out = append(out, k+"="+v)
	}
	return out
}
