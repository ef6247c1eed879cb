package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/croneye/croneye/internal/jobrun"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and control scheduled jobs",
	RunE:  runListJobs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show GROUP NAME",
	Short: "Show one job in detail",
	Args:  cobra.ExactArgs(2),
	RunE:  runShowJob,
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger GROUP NAME",
	Short: "Fire a job immediately",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := apiPost(jobPath(args)+"/trigger", nil, nil); err != nil {
			return err
		}
		fmt.Printf("triggered %s.%s\n", args[0], args[1])
		return nil
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause GROUP NAME",
	Short: "Pause all triggers of a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := apiPost(jobPath(args)+"/pause", nil, nil); err != nil {
			return err
		}
		fmt.Printf("paused %s.%s\n", args[0], args[1])
		return nil
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume GROUP NAME",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := apiPost(jobPath(args)+"/resume", nil, nil); err != nil {
			return err
		}
		fmt.Printf("resumed %s.%s\n", args[0], args[1])
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsShowCmd, jobsTriggerCmd, jobsPauseCmd, jobsResumeCmd)
	rootCmd.AddCommand(jobsCmd)
}

func jobPath(args []string) string {
	return "/api/v1/jobs/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
}

func runListJobs(_ *cobra.Command, _ []string) error {
	var jobs []*jobrun.JobInfo
	if err := apiGet("/api/v1/jobs", &jobs); err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs scheduled.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Group", "Name", "Status", "Triggers", "Last Run", "Last Status", "Success/Total")

	for _, j := range jobs {
		lastRun, lastStatus := "-", "-"
		if j.LastRun != nil {
			lastRun = j.LastRun.StartTime.Local().Format("2006-01-02 15:04:05")
			lastStatus = string(j.LastRun.Status)
		}
		ratio := "-"
		if j.LastRunStats != nil {
			ratio = fmt.Sprintf("%d/%d", j.LastRunStats.SuccessCount, j.LastRunStats.TotalRuns)
		}
		table.Append(j.Group, j.Name, string(j.Status), fmt.Sprintf("%d", j.TriggerCount), lastRun, lastStatus, ratio)
	}
	table.Render()
	return nil
}

func runShowJob(_ *cobra.Command, args []string) error {
	var info jobrun.JobInfo
	if err := apiGet(jobPath(args), &info); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job", info.Group+"."+info.Name)
	table.Append("Status", string(info.Status))
	if info.Description != "" {
		table.Append("Description", info.Description)
	}
	if info.Category != "" {
		table.Append("Category", info.Category)
	}
	table.Append("Triggers", fmt.Sprintf("%d", info.TriggerCount))
	if info.LastRun != nil {
		table.Append("Last Run", fmt.Sprintf("%s (%s)", info.LastRun.StartTime.Local().Format(time.RFC3339), info.LastRun.Status))
	}
	if s := info.LastRunStats; s != nil && s.TotalRuns > 0 {
		table.Append("Total Runs", fmt.Sprintf("%d", s.TotalRuns))
		table.Append("Successes", fmt.Sprintf("%d", s.SuccessCount))
		table.Append("Failures", fmt.Sprintf("%d", s.FailureCount))
		table.Append("Avg Run Time", fmt.Sprintf("%.0f ms", s.AvgRunTimeMs))
	}
	table.Render()

	if len(info.Triggers) > 0 {
		fmt.Println()
		tt := tablewriter.NewWriter(os.Stdout)
		tt.Header("Trigger", "Cron", "State", "Next Fire", "Prev Fire")
		for _, t := range info.Triggers {
			tt.Append(t.Group+"."+t.Name, t.CronExpression, string(t.State), formatFireTime(t.NextFireTime), formatFireTime(t.PreviousFireTime))
		}
		tt.Render()
	}
	return nil
}

func formatFireTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return strings.TrimSpace(t.Local().Format("2006-01-02 15:04:05"))
}
