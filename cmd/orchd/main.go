package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "orchd",
		Short: "Boardflow orchestrator - job scheduling and progress tracking",
		Long: `Boardflow orchestrator runs commands for tracking-board tickets.
It schedules jobs by priority under a concurrency cap, retries transient
failures behind a circuit breaker, tracks weighted stage progress, and
checkpoints progress so work survives restarts.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
