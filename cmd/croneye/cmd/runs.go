package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/croneye/croneye/internal/jobrun"
)

var (
	runsJob      string
	runsGroup    string
	runsStatus   string
	runsInstance string
	runsTake     int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query run history",
	RunE:  runListRuns,
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats GROUP NAME",
	Short: "Show aggregate run statistics for a job",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunStats,
}

var runsPurgeOlderThan string

var runsPurgeCmd = &cobra.Command{
	Use:   "purge GROUP NAME",
	Short: "Delete old run records for a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		var resp struct {
			Purged int64 `json:"purged"`
		}
		path := jobPath(args) + "/runs?older_than=" + url.QueryEscape(runsPurgeOlderThan)
		if err := apiDelete(path, &resp); err != nil {
			return err
		}
		fmt.Printf("purged %d runs\n", resp.Purged)
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsJob, "job", "", "filter by job name")
	runsCmd.Flags().StringVar(&runsGroup, "group", "", "filter by job group")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by run status")
	runsCmd.Flags().StringVar(&runsInstance, "instance", "", "filter by scheduler instance")
	runsCmd.Flags().IntVar(&runsTake, "take", 25, "maximum runs to show")
	runsPurgeCmd.Flags().StringVar(&runsPurgeOlderThan, "older-than", "720h", "age cutoff, a duration or RFC3339 timestamp")
	runsCmd.AddCommand(runsStatsCmd, runsPurgeCmd)
	rootCmd.AddCommand(runsCmd)
}

func runListRuns(_ *cobra.Command, _ []string) error {
	q := url.Values{}
	if runsJob != "" {
		q.Set("job", runsJob)
	}
	if runsGroup != "" {
		q.Set("group", runsGroup)
	}
	if runsStatus != "" {
		q.Set("status", runsStatus)
	}
	if runsInstance != "" {
		q.Set("instance", runsInstance)
	}
	q.Set("take", fmt.Sprintf("%d", runsTake))

	var runs []*jobrun.JobRun
	if err := apiGet("/api/v1/runs?"+q.Encode(), &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run ID", "Job", "Status", "Started", "Duration", "Detail")

	for _, r := range runs {
		duration := "-"
		if r.RunTimeMs != nil {
			duration = fmt.Sprintf("%d ms", *r.RunTimeMs)
		}
		detail := r.Result
		if r.Status == jobrun.StatusFailed {
			detail = r.ErrorMessage
		}
		if len(detail) > 48 {
			detail = detail[:45] + "..."
		}
		table.Append(r.ID, r.JobGroup+"."+r.JobName, string(r.Status),
			r.StartTime.Local().Format("2006-01-02 15:04:05"), duration, detail)
	}
	table.Render()
	return nil
}

func runRunStats(_ *cobra.Command, args []string) error {
	var stats jobrun.JobRunStats
	if err := apiGet(jobPath(args)+"/stats", &stats); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Total Runs", fmt.Sprintf("%d", stats.TotalRuns))
	table.Append("Successes", fmt.Sprintf("%d", stats.SuccessCount))
	table.Append("Failures", fmt.Sprintf("%d", stats.FailureCount))
	table.Append("Avg Run Time", fmt.Sprintf("%.0f ms", stats.AvgRunTimeMs))
	table.Append("Max Run Time", fmt.Sprintf("%d ms", stats.MaxRunTimeMs))
	table.Append("Min Run Time", fmt.Sprintf("%d ms", stats.MinRunTimeMs))
	table.Render()
	return nil
}
