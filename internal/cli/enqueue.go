package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/queuectl/internal/queue"
)

// jobSpec mirrors the JSON enqueue format: {"id":"job1","command":"sleep 2"}.
type jobSpec struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries"`
}

func (a *App) enqueueCmd() *cobra.Command {
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "enqueue <job>",
		Short: "Enqueue a new job",
		Long: `Enqueue a new job.

Accepts either a JSON job spec: '{"id":"job1","command":"sleep 2"}'
or a plain command string: "echo hello"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := parseJobSpec(args[0])
			if spec.Command == "" {
				return fmt.Errorf("no command provided")
			}

			opts := queue.EnqueueOptions{JobID: spec.ID}
			if cmd.Flags().Changed("max-retries") {
				opts.MaxRetries = &maxRetries
			} else if spec.MaxRetries != nil {
				opts.MaxRetries = spec.MaxRetries
			}

			job, err := a.queue.Enqueue(cmd.Context(), spec.Command, opts)
			if err != nil {
				return err
			}

			fmt.Printf("Job enqueued: %s\n", job.ID)
			fmt.Printf("Command: %s\n", job.Command)
			fmt.Printf("Max retries: %d\n", job.MaxRetries)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "maximum number of retries")

	return cmd
}

// parseJobSpec tries the JSON form first and falls back to treating the
// argument as a bare command string.
func parseJobSpec(arg string) jobSpec {
	var spec jobSpec
	if err := json.Unmarshal([]byte(arg), &spec); err == nil && spec.Command != "" {
		return spec
	}
	return jobSpec{Command: arg}
}
