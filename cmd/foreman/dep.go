package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/internal/store"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage feature dependencies",
}

var depAddCmd = &cobra.Command{
	Use:   "add <feature-id> <depends-on-id>",
	Short: "Make one feature depend on another",
	Long: `Record that a feature must wait for another to pass.

The edge is rejected if either feature is missing or if it would create a
dependency cycle; the store is left untouched in both cases.`,
	Args: cobra.ExactArgs(2),
	RunE: runDepAdd,
}

var depCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the dependency graph is acyclic and complete",
	RunE:  runDepCheck,
}

func init() {
	depCmd.AddCommand(depAddCmd)
	depCmd.AddCommand(depCheckCmd)
}

func openProjectStore() (*store.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	st, err := store.Open(store.ProjectDBPath(cwd))
	if err != nil {
		return nil, fmt.Errorf("open feature store: %w", err)
	}
	return st, nil
}

func runDepAdd(cmd *cobra.Command, args []string) error {
	featureID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("feature id %q is not a number", args[0])
	}
	dependsOn, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("dependency id %q is not a number", args[1])
	}

	st, err := openProjectStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.AddDependency(featureID, dependsOn); err != nil {
		return err
	}
	fmt.Printf("feature %d now waits for feature %d\n", featureID, dependsOn)
	return nil
}

func runDepCheck(cmd *cobra.Command, args []string) error {
	st, err := openProjectStore()
	if err != nil {
		return err
	}
	defer st.Close()

	features, err := st.ListFeatures()
	if err != nil {
		return fmt.Errorf("list features: %w", err)
	}

	if err := graph.CheckAcyclic(features); err != nil {
		return err
	}

	orphans := graph.Orphans(features)
	for id, missing := range orphans {
		fmt.Printf("feature %d references missing feature(s) %v\n", id, missing)
	}
	if len(orphans) > 0 {
		return fmt.Errorf("%d features reference missing dependencies", len(orphans))
	}

	fmt.Println("dependency graph is acyclic and complete")
	return nil
}
