// Package cmd implements the croneye command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	apiURL  string
)

var rootCmd = &cobra.Command{
	Use:           "croneye",
	Short:         "Job scheduling daemon with persistent run tracking",
	Long:          "croneye schedules cron jobs, records every run in a queryable history store,\nand exposes an HTTP API to inspect and control them.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "croneye API base URL (default http://localhost:8080 or $CRONEYE_API)")
}

// apiBase resolves the API base URL from the flag, the environment, or the
// default.
func apiBase() string {
	if apiURL != "" {
		return apiURL
	}
	if v := os.Getenv("CRONEYE_API"); v != "" {
		return v
	}
	return "http://localhost:8080"
}
