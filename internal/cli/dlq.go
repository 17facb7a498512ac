package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/queuectl/internal/queue"
)

func (a *App) dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead letter queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the dead letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.queue.ListDLQ(cmd.Context())
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("Dead letter queue is empty.")
				return nil
			}

			printJobsTable(jobs)
			return nil
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead job back to the pending queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			if err := a.queue.RetryFromDLQ(cmd.Context(), jobID); err != nil {
				if errors.Is(err, queue.ErrNotInDLQ) || errors.Is(err, queue.ErrJobNotFound) {
					return fmt.Errorf("job not found in DLQ: %s", jobID)
				}
				return err
			}
			fmt.Printf("Job %s moved back to pending queue\n", jobID)
			return nil
		},
	}

	cmd.AddCommand(listCmd, retryCmd)
	return cmd
}

func (a *App) resetStuckCmd() *cobra.Command {
	var timeout int

	cmd := &cobra.Command{
		Use:   "reset-stuck",
		Short: "Reset jobs abandoned in the processing state by crashed workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold := secondsToDuration(timeout)
			if !cmd.Flags().Changed("timeout") && a.cfg.Worker.StuckTimeout > 0 {
				threshold = a.cfg.Worker.StuckTimeout.Std()
			}

			count, err := a.queue.ResetStuck(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d stuck job(s)\n", count)
			return nil
		},
	}

	cmd.Flags().IntVar(&timeout, "timeout", 3600, "reset jobs processing for longer than this many seconds (default: worker.stuck_timeout config)")

	return cmd
}
