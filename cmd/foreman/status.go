package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/internal/store"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog progress and readiness",
	Long: `Display the state of the project backlog.

Shows feature counts, which features are ready to be claimed, which are in
progress, and which are blocked on unfinished or missing dependencies.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "List every feature")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := store.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No backlog here. Add features with 'foreman add' or 'foreman import'.")
		return nil
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer st.Close()

	features, err := st.ListFeatures()
	if err != nil {
		return fmt.Errorf("list features: %w", err)
	}
	if len(features) == 0 {
		fmt.Println("The backlog is empty.")
		return nil
	}

	ready := graph.ComputeReady(features)
	orphans := graph.Orphans(features)

	blocked := make(map[int64][]int64)
	for id, blocking := range graph.ComputeBlocked(features) {
		if len(blocking) > 0 {
			blocked[id] = blocking
		}
	}

	passing, inProgress := 0, 0
	for _, f := range features {
		if f.Passes {
			passing++
		}
		if f.InProgress {
			inProgress++
		}
	}

	good := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed)

	fmt.Printf("features: %d total\n", len(features))
	good.Printf("  passing:     %d\n", passing)
	fmt.Printf("  in progress: %d\n", inProgress)
	fmt.Printf("  ready:       %d\n", len(ready))
	if len(blocked) > 0 {
		warn.Printf("  blocked:     %d\n", len(blocked))
	}

	for id, missing := range orphans {
		fail.Printf("  feature %d depends on missing feature(s) %v and can never run\n", id, missing)
	}

	if !statusVerbose {
		return nil
	}

	byID := make(map[int64]bool, len(ready))
	for _, id := range ready {
		byID[id] = true
	}

	fmt.Println()
	for _, f := range features {
		var state string
		switch {
		case f.Passes:
			state = good.Sprint("done")
		case f.InProgress:
			state = "in progress"
		case byID[f.ID]:
			state = "ready"
		default:
			state = warn.Sprintf("blocked on %v", blocked[f.ID])
		}
		deps := ""
		if len(f.Dependencies) > 0 {
			deps = fmt.Sprintf(" (deps: %s)", joinIDs(f.Dependencies))
		}
		fmt.Printf("  [%d] p%d %s%s - %s\n", f.ID, f.Priority, f.Name, deps, state)
	}
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
