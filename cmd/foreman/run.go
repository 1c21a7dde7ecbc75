package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/internal/runlog"
	"github.com/ShayCichocki/foreman/internal/store"
	"github.com/ShayCichocki/foreman/internal/supervisor"
	"github.com/ShayCichocki/foreman/internal/tui"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var (
	runNoTUI          bool
	runMaxConcurrency int
	runBatchSize      int
	runModel          string
	runAgentCommand   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Work through the backlog with parallel agent sessions",
	Long: `Start the orchestration loop for the current project.

The loop claims ready features, spawns agent subprocesses to implement
them, verifies completed work with testing sessions, and stops on its own
once nothing is left to do.

While running:
  - press s (TUI) or create .foreman/control/stop to drain and stop
  - press K (TUI) or create .foreman/control/kill to stop immediately
  - the first interrupt signal drains; a second one kills`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "Run headless, printing events to stdout")
	runCmd.Flags().IntVar(&runMaxConcurrency, "max-concurrency", 0, "Override per-role session ceiling")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "Override features per session")
	runCmd.Flags().StringVar(&runModel, "model", "", "Override the model exported to sessions")
	runCmd.Flags().StringVar(&runAgentCommand, "agent", "", "Override the agent binary")
}

func runRun(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if runMaxConcurrency > 0 {
		cfg.Run.MaxConcurrency = runMaxConcurrency
		if cfg.Run.MaxConcurrency > config.MaxConcurrencyCeiling {
			cfg.Run.MaxConcurrency = config.MaxConcurrencyCeiling
		}
		cfg.Run.MaxTotal = cfg.Run.MaxConcurrency * 2
	}
	if runBatchSize > 0 {
		cfg.Run.BatchSize = runBatchSize
	}
	if runModel != "" {
		cfg.Agent.Model = runModel
	}
	if runAgentCommand != "" {
		cfg.Agent.Command = runAgentCommand
	}

	st, err := store.Open(store.ProjectDBPath(cwd))
	if err != nil {
		return fmt.Errorf("open feature store: %w", err)
	}
	defer st.Close()

	counts, err := st.CountFeatures()
	if err != nil {
		return fmt.Errorf("inspect feature store: %w", err)
	}
	if counts.Total == 0 {
		fmt.Println("The backlog is empty. Add features with 'foreman add' or 'foreman import'.")
		return nil
	}

	rl, err := runlog.Open(runlog.ProjectLogPath(cwd))
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer rl.Close()

	policyPath := config.FindProjectConfig()
	if policyPath == "" {
		policyPath = filepath.Join(cwd, ".foreman.yaml")
	}
	policy, err := supervisor.LoadPolicy(policyPath)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		MaxCoding:      cfg.Run.MaxConcurrency,
		MaxTesting:     cfg.Run.MaxConcurrency,
		MaxTotal:       cfg.Run.MaxTotal,
		AgentCommand:   cfg.Agent.Command,
		AgentArgs:      cfg.Agent.Args,
		WorkDir:        cwd,
		Model:          cfg.Agent.Model,
		GracePeriod:    cfg.Run.GracePeriod,
		StuckThreshold: cfg.Run.StuckThreshold,
		Prompt:         supervisor.DefaultPrompt,
		ExtraEnv:       policy.Environ(),
	})
	if err != nil {
		return fmt.Errorf("set up supervisor: %w", err)
	}

	logger := orchestrator.NewDebugLoggerForProject(cwd)
	defer logger.Close()

	orch, err := orchestrator.New(orchestrator.Config{
		Store:        st,
		Supervisor:   sup,
		RunLog:       rl,
		LockPath:     filepath.Join(cwd, ".foreman", "lock"),
		ControlDir:   filepath.Join(cwd, ".foreman", "control"),
		PollInterval: cfg.Run.PollInterval,
		BatchSize:    cfg.Run.BatchSize,
		MaxCoding:    cfg.Run.MaxConcurrency,
		MaxTesting:   cfg.Run.MaxConcurrency,
		MaxTotal:     cfg.Run.MaxTotal,
		Model:        cfg.Agent.Model,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("set up orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First interrupt drains, second kills.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		orch.SoftStop()
		<-sigCh
		orch.HardStop()
	}()

	if runNoTUI {
		return runHeadless(ctx, orch)
	}
	return runWithDashboard(ctx, orch, cfg)
}

func runHeadless(ctx context.Context, orch *orchestrator.Orchestrator) error {
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed)
	good := color.New(color.FgGreen)

	for {
		select {
		case ev := <-orch.Events():
			switch ev.Type {
			case orchestrator.EventSessionSpawned:
				fmt.Printf("slot %d: %s session started on %v\n", ev.Slot, ev.Role, ev.FeatureIDs)
			case orchestrator.EventSessionDone:
				if ev.Outcome == models.OutcomeSuccess {
					good.Printf("slot %d: %s session finished on %v\n", ev.Slot, ev.Role, ev.FeatureIDs)
				} else {
					warn.Printf("slot %d: %s session ended with %s on %v\n", ev.Slot, ev.Role, ev.Outcome, ev.FeatureIDs)
				}
			case orchestrator.EventWorkerStuck:
				warn.Printf("slot %d looks stuck: %s\n", ev.Slot, ev.Message)
			case orchestrator.EventBlockedWork:
				warn.Println(ev.Message)
			case orchestrator.EventStoreTrouble:
				fail.Printf("store error: %v\n", ev.Err)
			case orchestrator.EventRunStopped:
				fmt.Printf("run stopped: %s\n", ev.Message)
			}
		case err := <-done:
			st := orch.Status()
			fmt.Printf("features passing: %d/%d\n", st.Passing, st.Total)
			return err
		}
	}
}

func runWithDashboard(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) error {
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	dash := tui.NewDashboard(orch, cfg.TUI.RefreshRate)
	if err := dash.Run(); err != nil {
		orch.HardStop()
		<-done
		return fmt.Errorf("dashboard: %w", err)
	}

	// Dashboard closed; drain the run if it is still going.
	orch.SoftStop()
	err := <-done

	st := orch.Status()
	fmt.Printf("run %s: %s (%s), features passing %d/%d\n",
		st.RunID, st.State, st.Reason, st.Passing, st.Total)
	return err
}
