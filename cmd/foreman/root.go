package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Parallel coding-agent orchestrator",
	Long: `Foreman coordinates multiple coding-agent sessions working through a
shared feature backlog. Features live in a project-local SQLite store with
explicit dependencies; foreman claims ready features atomically, spawns one
agent subprocess per batch, harvests their outcomes, and keeps going until
the backlog is done or an operator stops the run.

Typical workflow:
  foreman plan "build a url shortener" --import   # draft and load a backlog
  foreman run                                     # work through it
  foreman status                                  # inspect progress`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(depCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}
