package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) listCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.queue.ListJobs(cmd.Context(), state)
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("No jobs found.")
				return nil
			}

			printJobsTable(jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state (pending, processing, completed, dead, dlq)")

	return cmd
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary of job states and queue configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.queue.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("=== Job Status Summary ===")
			if len(stats) == 0 {
				fmt.Println("No jobs found.")
			} else {
				for _, state := range []string{"pending", "processing", "completed", "dead", "dlq"} {
					if count, ok := stats[state]; ok {
						fmt.Printf("  %-12s %d\n", state, count)
					}
				}
			}

			values, err := a.queue.AllConfig(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("\n=== Configuration ===")
			for _, key := range sortedKeys(values) {
				fmt.Printf("  %-14s %s\n", key, values[key])
			}

			return nil
		},
	}
}
