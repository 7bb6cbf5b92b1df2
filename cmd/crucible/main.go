// Command crucible runs A/B experiments against autonomous coding agents:
// it provisions task workspaces, drives agent sessions, and evaluates the
// resulting patches in isolated containers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cruciblebench/crucible/config"
	"github.com/cruciblebench/crucible/internal/version"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "A/B evaluation harness for autonomous coding agents",
	Long: `Crucible runs coding tasks against two configurations of an AI coding
agent, drives interactive sessions to completion, and judges the resulting
patches against reference tests inside Docker.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.DefaultConfig()
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger = newLogger(cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crucible %s (%s) built %s\n", version.Version, version.Commit, version.BuildDate)
	},
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
