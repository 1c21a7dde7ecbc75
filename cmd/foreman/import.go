package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/backlog"
	"github.com/ShayCichocki/foreman/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <backlog.yaml>",
	Short: "Import a YAML backlog into the feature store",
	Long: `Load a backlog file into the project's feature store.

The whole file is imported in one transaction: if any entry is malformed,
names an unknown dependency, or would create a cycle, nothing is imported.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	st, err := store.Open(store.ProjectDBPath(cwd))
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer st.Close()

	ids, err := backlog.Import(st, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("imported %d features (ids %d-%d)\n", len(ids), ids[0], ids[len(ids)-1])
	return nil
}
