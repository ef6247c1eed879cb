package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/croneye/croneye/internal/jobrun"
	"github.com/croneye/croneye/internal/runner"
)

var (
	wrapName    string
	wrapGroup   string
	wrapTimeout time.Duration
)

// wrapCmd lets plain crontab entries report into croneye's run history:
// `croneye wrap --name backup -- pg_dump ...` runs the command and records
// a Started record before and the outcome after, under one run ID.
var wrapCmd = &cobra.Command{
	Use:   "wrap -- COMMAND [ARGS...]",
	Short: "Run a command and record it in the run history",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWrap,
}

func init() {
	wrapCmd.Flags().StringVar(&wrapName, "name", "", "job name to record under (required)")
	wrapCmd.Flags().StringVar(&wrapGroup, "group", "EXTERNAL", "job group to record under")
	wrapCmd.Flags().DurationVar(&wrapTimeout, "timeout", 0, "optional command timeout")
	_ = wrapCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(wrapCmd)
}

func runWrap(cmd *cobra.Command, args []string) error {
	command := strings.Join(args, " ")
	run := &jobrun.JobRun{
		ID:           jobrun.NewRunID(),
		JobName:      wrapName,
		JobGroup:     wrapGroup,
		Status:       jobrun.StatusStarted,
		StartTime:    time.Now().UTC(),
		InstanceName: hostname(),
		Description:  command,
	}
	run.ScheduledTime = run.StartTime

	// Recording is best effort; the wrapped command runs regardless.
	if err := apiPost("/api/v1/runs", run, nil); err != nil {
		cmd.PrintErrln("warning: failed to record run start:", err)
	}

	shell := runner.New(newLogger("warn"))
	res, execErr := shell.Run(context.Background(), runner.Command{
		Script:  command,
		Timeout: wrapTimeout,
		Meta: runner.Meta{
			JobName:  wrapName,
			JobGroup: wrapGroup,
			RunID:    run.ID,
		},
	})
	fmt.Print(res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)

	run.Result = strings.TrimSpace(res.Stdout)
	run.Complete(time.Now().UTC(), execErr)
	if err := apiPost("/api/v1/runs", run, nil); err != nil {
		cmd.PrintErrln("warning: failed to record run outcome:", err)
	}

	if execErr != nil {
		return fmt.Errorf("command failed: %w", execErr)
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
