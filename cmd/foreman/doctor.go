package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this project is ready for a run",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	failures := 0

	check := func(label string, err error) {
		if err != nil {
			failures++
			fmt.Printf("%s %s: %v\n", bad("✗"), label, err)
			return
		}
		fmt.Printf("%s %s\n", ok("✓"), label)
	}

	cfg, err := config.Load()
	check("configuration loads", err)

	if cfg != nil {
		if _, lookErr := exec.LookPath(cfg.Agent.Command); lookErr != nil {
			check(fmt.Sprintf("agent binary %q on PATH", cfg.Agent.Command), lookErr)
		} else {
			check(fmt.Sprintf("agent binary %q on PATH", cfg.Agent.Command), nil)
		}
	}

	dbPath := store.ProjectDBPath(cwd)
	if _, statErr := os.Stat(dbPath); os.IsNotExist(statErr) {
		fmt.Printf("%s feature store not created yet (first 'foreman add' or 'foreman import' creates it)\n", warn("-"))
	} else {
		st, openErr := store.Open(dbPath)
		check("feature store opens", openErr)
		if openErr == nil {
			counts, countErr := st.CountFeatures()
			check("feature store readable", countErr)
			if countErr == nil {
				fmt.Printf("  %d features, %d passing\n", counts.Total, counts.Passing)
			}
			st.Close()
		}
	}

	if pid, live := lockOwner(cwd); live {
		fmt.Printf("%s a run is active (pid %d)\n", warn("-"), pid)
	} else if _, statErr := os.Stat(filepath.Join(cwd, ".foreman", "lock")); statErr == nil {
		fmt.Printf("%s stale lock file present; the next run will take it over\n", warn("-"))
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	return nil
}
