package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cruciblebench/crucible/task"
)

var tasksTier string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the loaded task definitions without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := task.Load(cfg.TasksDir(), task.Tier(tasksTier))
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("no tasks found in", cfg.TasksDir())
			return nil
		}
		for _, t := range tasks {
			repo := "-"
			if t.Repo != nil {
				repo = t.Repo.Repo
			}
			fmt.Printf("%-30s %-12s repo=%-30s %s\n", t.ID, t.Tier, repo, t.Name)
		}
		fmt.Printf("\n%d tasks\n", len(tasks))
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksTier, "tier", "", "list only one tier")
}
