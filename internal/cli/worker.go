package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/queuectl/internal/worker"
)

func (a *App) workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage worker processes",
	}

	cmd.AddCommand(a.workerStartCmd(), a.workerRunCmd())
	return cmd
}

// workerStartCmd runs the worker pool supervisor in the foreground: it
// spawns N isolated worker processes (each re-invoking this binary's
// hidden `worker run` entry point) and owns their shutdown.
func (a *App) workerStartCmd() *cobra.Command {
	var (
		count        int
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start worker processes to process jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("count") {
				// Pool size defaults to the durable `workers` config value.
				configured, err := a.queue.Workers(cmd.Context())
				if err != nil {
					return err
				}
				count = configured
			}

			binary, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to resolve executable path: %w", err)
			}

			// Forward --poll-interval only when set explicitly; otherwise
			// each child resolves it from its own config file.
			baseArgs := workerRunArgs(pollInterval, cmd.Flags().Changed("poll-interval"), a.configPath, a.dbPath)

			supervisor := worker.NewSupervisor(&worker.SupervisorConfig{
				Binary:      binary,
				BaseArgs:    baseArgs,
				Count:       count,
				GracePeriod: a.cfg.Worker.ShutdownTimeout.Std(),
				Logger:      a.logger,
			})

			if err := supervisor.Start(); err != nil {
				return err
			}

			fmt.Printf("Started %d worker(s). Press Ctrl+C to shut down gracefully.\n", count)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			waitDone := make(chan struct{})
			go func() {
				supervisor.Wait()
				close(waitDone)
			}()

			select {
			case sig := <-quit:
				a.logger.Info("received signal, shutting down worker pool",
					"signal", sig.String(),
				)
				supervisor.Shutdown()
				supervisor.Wait()
			case <-waitDone:
				// All workers exited on their own.
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "number of worker processes (default: workers config value)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "idle polling interval")

	return cmd
}

// workerRunCmd is the child entry point spawned by the supervisor. It runs
// one worker loop until signaled.
func (a *App) workerRunCmd() *cobra.Command {
	var (
		workerID     int
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:    "run",
		Short:  "Run a single worker loop (internal, spawned by `worker start`)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("poll-interval") && a.cfg.Worker.PollInterval > 0 {
				pollInterval = a.cfg.Worker.PollInterval.Std()
			}

			w := worker.NewWorker(&worker.Config{
				ID:           workerID,
				Queue:        a.queue,
				Executor:     worker.NewExecutor(a.cfg.Worker.CommandTimeout.Std(), a.logger),
				PollInterval: pollInterval,
				Logger:       a.logger,
			})

			return w.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&workerID, "worker-id", 0, "worker identifier within the pool")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "idle polling interval")

	return cmd
}

// workerRunArgs builds the child worker invocation, propagating the
// supervisor's connection flags so every worker hits the same store.
func workerRunArgs(pollInterval time.Duration, pollIntervalSet bool, configPath, dbPath string) []string {
	args := []string{"worker", "run"}
	if pollIntervalSet {
		args = append(args, "--poll-interval", pollInterval.String())
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}
	return args
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
