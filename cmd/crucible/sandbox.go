package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cruciblebench/crucible/sandbox"
)

var sandboxCmd = &cobra.Command{
	Use:   "check-sandbox",
	Short: "Probe the Docker daemon used for patch evaluation",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := sandbox.NewRunner(cfg.Sandbox, logger)
		defer func() { _ = runner.Close() }()

		ok, reason := runner.Available()
		if !ok {
			return fmt.Errorf("docker not available: %s", reason)
		}
		fmt.Println("docker daemon reachable")
		if cfg.Sandbox.Image != "" {
			fmt.Println("default image:", cfg.Sandbox.Image)
		}
		return nil
	},
}
