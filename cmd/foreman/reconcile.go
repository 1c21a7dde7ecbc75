package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/store"
)

// lockOwner reports the PID holding the project lock and whether it is a
// live process.
func lockOwner(projectRoot string) (int, bool) {
	return orchestrator.LockOwner(filepath.Join(projectRoot, ".foreman", "lock"))
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Release claims left behind by a crashed run",
	Long: `Clear in-progress markers that no live orchestrator owns.

The orchestrator does this automatically at startup; run it manually when
you want to inspect or clean up without starting a run. Refuses to touch
anything while a live orchestrator holds the project lock.`,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if pid, live := lockOwner(cwd); live {
		return fmt.Errorf("a run (pid %d) holds the project lock; stop it first", pid)
	}

	st, err := store.Open(store.ProjectDBPath(cwd))
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer st.Close()

	orphaned, err := st.Orphaned()
	if err != nil {
		return err
	}
	if len(orphaned) == 0 {
		fmt.Println("no stale claims found")
		return nil
	}

	for _, f := range orphaned {
		fmt.Printf("  [%d] %s\n", f.ID, f.Name)
	}

	n, err := st.ResetOrphaned()
	if err != nil {
		return err
	}
	fmt.Printf("released %d stale claims\n", n)
	return nil
}
