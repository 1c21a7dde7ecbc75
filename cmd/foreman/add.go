package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/store"
)

var (
	addPriority    int
	addCategory    string
	addDescription string
	addSteps       []string
	addDependsOn   []int64
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a single feature to the backlog",
	Long: `Append one feature to the project backlog.

Examples:
  foreman add "login endpoint" -p 1 -c api --step "POST /login returns a token"
  foreman add "rate limiting" --depends-on 3 --depends-on 4`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().IntVarP(&addPriority, "priority", "p", 3, "Priority, 1 is most urgent")
	addCmd.Flags().StringVarP(&addCategory, "category", "c", "", "Feature category")
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "What to build")
	addCmd.Flags().StringArrayVar(&addSteps, "step", nil, "Verification step (repeatable)")
	addCmd.Flags().Int64SliceVar(&addDependsOn, "depends-on", nil, "ID of a feature this one depends on (repeatable)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	st, err := store.Open(store.ProjectDBPath(cwd))
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer st.Close()

	id, err := st.CreateFeature(store.NewFeature{
		Priority:     addPriority,
		Category:     addCategory,
		Name:         args[0],
		Description:  addDescription,
		Steps:        addSteps,
		Dependencies: addDependsOn,
	})
	if err != nil {
		return err
	}

	fmt.Printf("added feature %d: %s\n", id, args[0])
	return nil
}
