package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cruciblebench/crucible/detect"
	"github.com/cruciblebench/crucible/harness"
	"github.com/cruciblebench/crucible/repocache"
	"github.com/cruciblebench/crucible/sandbox"
	"github.com/cruciblebench/crucible/task"
)

var (
	runGroup    string
	runTier     string
	runTaskID   string
	runMode     string
	runNoCache  bool
	runSandbox  bool
	runParallel int
	runHardSec  int
	runIdleSec  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the experiment task set against the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runMode != "" {
			cfg.Execution.Mode = runMode
		}
		if runNoCache {
			cfg.Cache.Enabled = false
		}
		if runSandbox {
			cfg.Sandbox.Enabled = true
		}
		if runParallel > 0 {
			cfg.Execution.Parallelism = runParallel
		}
		if runHardSec > 0 {
			cfg.Execution.HardTimeoutSec = runHardSec
		}
		if runIdleSec > 0 {
			cfg.Execution.IdleTimeoutSec = runIdleSec
		}

		tasks, err := task.Load(cfg.TasksDir(), task.Tier(runTier))
		if err != nil {
			return err
		}

		ctrl, cleanup, err := buildController()
		if err != nil {
			return err
		}
		defer cleanup()

		opts := harness.ExperimentOptions{
			Tier:   task.Tier(runTier),
			TaskID: runTaskID,
		}
		if runGroup != "" {
			opts.Groups = []task.Group{task.Group(runGroup)}
		}

		exp, err := ctrl.RunExperiment(ctx, tasks, opts)
		if err != nil {
			return err
		}

		for _, s := range exp.Summarize() {
			fmt.Printf("%-10s total=%d completed=%d resolved=%d timeouts=%d setup_fails=%d\n",
				s.Group, s.Total, s.Completed, s.Resolved, s.Timeouts, s.SetupFails)
		}
		return nil
	},
}

// buildController assembles the harness from the loaded config. The returned
// cleanup closes every collaborator that holds resources.
func buildController() (*harness.Controller, func(), error) {
	var cache *repocache.Manager
	if cfg.Cache.Enabled {
		var err error
		cache, err = repocache.NewManager(cfg.MirrorsDir(), cfg.Cache.RefreshInterval(), logger)
		if err != nil {
			return nil, nil, err
		}
	}

	var runner *sandbox.Runner
	if cfg.Sandbox.Enabled {
		runner = sandbox.NewRunner(cfg.Sandbox, logger)
		if ok, reason := runner.Available(); !ok {
			logger.Warn("docker unavailable, evaluations will be skipped", "reason", reason)
		}
	}

	if err := os.MkdirAll(cfg.ResultsDir(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create results dir: %w", err)
	}
	store, err := harness.NewResultStore(filepath.Join(cfg.ResultsDir(), "results.db"))
	if err != nil {
		return nil, nil, err
	}

	ctrl, err := harness.NewController(harness.ControllerOptions{
		Config:   cfg,
		Cache:    cache,
		Sandbox:  runner,
		Detector: buildDetector(),
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if runner != nil {
			_ = runner.Close()
		}
		_ = store.Close()
	}
	return ctrl, cleanup, nil
}

// buildDetector chains pattern matching with the optional semantic fallback.
func buildDetector() detect.Detector {
	pattern := detect.NewPatternDetector(detect.PatternConfig{})
	if !cfg.Detector.Semantic {
		return pattern
	}
	sem := detect.NewSemanticDetector(detect.SemanticConfig{
		APIKey:  cfg.Detector.APIKey(),
		Model:   cfg.Detector.Model,
		BaseURL: cfg.Detector.BaseURL,
		Timeout: cfg.Detector.Timeout(),
		Logger:  logger,
	})
	if !sem.Available() {
		logger.Warn("semantic detector enabled but no API key found", "env", cfg.Detector.APIKeyEnv)
		return pattern
	}
	return detect.NewChain(pattern, sem)
}

func init() {
	runCmd.Flags().StringVar(&runGroup, "group", "", "run only one group (control or treatment)")
	runCmd.Flags().StringVar(&runTier, "tier", "", "run only one tier")
	runCmd.Flags().StringVar(&runTaskID, "task", "", "run only one task by id")
	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode (single-shot or interactive)")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "bypass the repository mirror cache")
	runCmd.Flags().BoolVar(&runSandbox, "sandbox", false, "enable Docker patch evaluation")
	runCmd.Flags().IntVar(&runParallel, "parallelism", 0, "max concurrent task sessions")
	runCmd.Flags().IntVar(&runHardSec, "hard-timeout", 0, "per-session wall-clock budget in seconds")
	runCmd.Flags().IntVar(&runIdleSec, "idle-timeout", 0, "max silence between output chunks in seconds")
}
