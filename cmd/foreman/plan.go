package main

import (
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/backlog"
	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/planner"
	"github.com/ShayCichocki/foreman/internal/store"
)

var (
	planOutput    string
	planDoImport  bool
	planAWSRegion string
)

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Draft a backlog for a project goal",
	Long: `Ask a model to draft a dependency-ordered backlog for the goal.

The draft is validated before anything is written. By default it is printed
to stdout; use --output to save it or --import to load it straight into the
feature store.

Examples:
  foreman plan "a CLI password manager" --output backlog.yaml
  foreman plan "a CLI password manager" --import`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "Write the backlog to a file")
	planCmd.Flags().BoolVar(&planDoImport, "import", false, "Import the backlog into the feature store")
	planCmd.Flags().StringVar(&planAWSRegion, "aws-region", "", "AWS region when using Bedrock")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	client, err := planner.NewClient(planner.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     planAWSRegion,
	})
	if err != nil {
		return err
	}

	doc, err := client.Plan(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if planOutput != "" {
		if err := os.WriteFile(planOutput, []byte(doc+"\n"), 0644); err != nil {
			return fmt.Errorf("write backlog file: %w", err)
		}
		fmt.Printf("wrote backlog to %s\n", planOutput)
	}

	if planDoImport {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		st, err := store.Open(store.ProjectDBPath(cwd))
		if err != nil {
			return fmt.Errorf("open feature store: %w", err)
		}
		defer st.Close()

		batch, err := backlog.Parse([]byte(doc))
		if err != nil {
			return err
		}
		ids, err := st.CreateFeatures(batch)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d features\n", len(ids))
	}

	if planOutput == "" && !planDoImport {
		fmt.Println(doc)
	}
	return nil
}
