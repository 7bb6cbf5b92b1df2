package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cruciblebench/crucible/repocache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the repository mirror cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-mirror disk usage and worktree counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := repocache.NewManager(cfg.MirrorsDir(), cfg.Cache.RefreshInterval(), logger)
		if err != nil {
			return err
		}
		stats := mgr.Stats()
		if len(stats) == 0 {
			fmt.Println("cache is empty:", cfg.MirrorsDir())
			return nil
		}
		for _, s := range stats {
			fmt.Printf("%-40s %8.1f MB  worktrees=%d  last_fetch=%s\n",
				s.Repo, float64(s.DiskBytes)/(1<<20), s.Worktrees, s.LastFetch.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [repo]",
	Short: "Remove cached mirrors (all, or one org/name)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := repocache.NewManager(cfg.MirrorsDir(), cfg.Cache.RefreshInterval(), logger)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			if err := mgr.Clear(args[0]); err != nil {
				return err
			}
			fmt.Println("cleared mirror for", args[0])
			return nil
		}
		if err := mgr.ClearAll(); err != nil {
			return err
		}
		fmt.Println("cleared all mirrors under", cfg.MirrorsDir())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
