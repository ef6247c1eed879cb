// Package runner executes shell commands for jobs, keeping only the tail of
// each output stream so runaway commands cannot exhaust memory.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const tailCap = 64 * 1024 // 64KB per stream

// TailBuffer is a fixed-size circular io.Writer retaining the most recent
// bytes written.
type TailBuffer struct {
	buf     []byte
	cap     int
	w       int
	wrapped bool
}

// NewTailBuffer creates a TailBuffer with the given capacity.
func NewTailBuffer(capacity int) *TailBuffer {
	return &TailBuffer{buf: make([]byte, capacity), cap: capacity}
}

// Write stores p, overwriting the oldest bytes once capacity is exceeded.
func (t *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.cap {
		copy(t.buf, p[n-t.cap:])
		t.w = 0
		t.wrapped = true
		return n, nil
	}

	prev := t.w
	head := t.cap - t.w
	if head >= n {
		copy(t.buf[t.w:], p)
	} else {
		copy(t.buf[t.w:], p[:head])
		copy(t.buf, p[head:])
	}
	t.w = (t.w + n) % t.cap
	if !t.wrapped && t.w <= prev {
		t.wrapped = true
	}
	return n, nil
}

// String returns the buffered bytes in chronological order.
func (t *TailBuffer) String() string {
	if !t.wrapped {
		return string(t.buf[:t.w])
	}
	out := make([]byte, t.cap)
	n := copy(out, t.buf[t.w:])
	copy(out[n:], t.buf[:t.w])
	return string(out)
}

// Command describes one shell execution.
type Command struct {
	Script     string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
	Meta       Meta
}

// Meta identifies the firing a command belongs to; it is exported to the
// child process as CRONEYE_* environment variables.
type Meta struct {
	JobName  string
	JobGroup string
	Trigger  string
	RunID    string
}

// Result holds the outcome of one shell execution.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

// Runner runs shell commands through `sh -c`.
type Runner struct {
	logger zerolog.Logger
}

// New creates a Runner.
func New(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the command and returns its captured output. A non-zero exit,
// a timeout, or a start failure come back as a non-nil error carrying the
// exit code and the tail of stderr.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.Script)
	cmd.Env = BuildEnv(c.Env, c.Meta)
	if c.WorkingDir != "" {
		cmd.Dir = c.WorkingDir
	}

	stdout := NewTailBuffer(tailCap)
	stderr := NewTailBuffer(tailCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if runErr == nil {
		return res, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, fmt.Errorf("command timed out after %s", c.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = runErr.Error()
		}
		return res, fmt.Errorf("exit code %d: %s", res.ExitCode, lastLines(msg, 5))
	}
	res.ExitCode = -1
	return res, runErr
}

// lastLines returns at most n trailing lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
