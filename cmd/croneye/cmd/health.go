package cmd

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"
)

var healthRestartCmd string

// healthCmd is meant to run from cron itself as a watchdog: it checks the
// daemon's health endpoint and optionally restarts it when unhealthy.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health, optionally restarting it when unhealthy",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthRestartCmd, "restart-cmd", "", "command to run if the daemon is unhealthy")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Status   string `json:"status"`
		Instance string `json:"instance"`
	}
	err := apiGet("/api/v1/health", &resp)
	if err == nil && resp.Status == "ok" {
		fmt.Printf("ok (instance %s)\n", resp.Instance)
		return nil
	}

	if err == nil {
		err = fmt.Errorf("unexpected health status %q", resp.Status)
	}
	cmd.PrintErrln("health check failed:", err)

	if healthRestartCmd == "" {
		return err
	}
	cmd.PrintErrln("attempting restart:", healthRestartCmd)
	restart := exec.Command("sh", "-c", healthRestartCmd)
	restart.Stdout = cmd.OutOrStdout()
	restart.Stderr = cmd.ErrOrStderr()
	if rerr := restart.Run(); rerr != nil {
		return fmt.Errorf("restart command failed: %w", rerr)
	}
	return nil
}
