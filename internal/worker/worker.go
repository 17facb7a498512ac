package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/queuectl/internal/queue"
)

// Config holds worker configuration
type Config struct {
	ID           int
	Queue        *queue.Queue
	Executor     *Executor
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Worker is a single-actor loop: claim one job, execute it, report the
// outcome, repeat. All coordination with other workers happens through the
// queue's atomic claim protocol; a Worker shares nothing in memory.
type Worker struct {
	id           int
	queue        *queue.Queue
	executor     *Executor
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewWorker creates a worker instance.
func NewWorker(cfg *Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		id:           cfg.ID,
		queue:        cfg.Queue,
		executor:     cfg.Executor,
		pollInterval: pollInterval,
		logger:       cfg.Logger.With(slog.Int("worker_id", cfg.ID)),
	}
}

// Run executes the worker loop until ctx is canceled. Cancellation is
// cooperative: it is observed at the top of the loop and during the idle
// poll wait, never mid-execution. A job in flight when shutdown is
// requested is finished and its outcome reported before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		slog.Duration("poll_interval", w.pollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		default:
		}

		jobs, err := w.queue.Dequeue(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return nil
			}
			w.logger.Error("failed to claim job",
				slog.String("error", err.Error()),
			)
			w.sleep(ctx)
			continue
		}

		if len(jobs) == 0 {
			w.sleep(ctx)
			continue
		}

		w.processJob(&jobs[0])
	}
}

// processJob executes a claimed job and reports the outcome. It runs under
// context.Background on purpose: shutdown must never abandon an in-flight
// job or suppress its outcome report. The executor enforces its own bounded
// timeout.
func (w *Worker) processJob(job *queue.Job) {
	ctx := context.Background()

	w.logger.Info("processing job",
		slog.String("job_id", job.ID),
		slog.String("command", job.Command),
		slog.Int("attempts", job.Attempts),
	)

	output, err := w.executor.Run(ctx, job.Command)
	if err != nil {
		w.logger.Warn("job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)

		backoffBase, cfgErr := w.queue.BackoffBase(ctx)
		if cfgErr != nil {
			w.logger.Error("failed to read backoff base, using default",
				slog.String("error", cfgErr.Error()),
			)
			backoffBase = queue.DefaultBackoffBase
		}

		if markErr := w.queue.MarkFailed(ctx, job.ID, err.Error(), backoffBase); markErr != nil {
			w.logger.Error("failed to report job failure",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return
	}

	w.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.Int("output_bytes", len(output)),
	)

	if markErr := w.queue.MarkCompleted(ctx, job.ID); markErr != nil {
		w.logger.Error("failed to report job completion",
			slog.String("job_id", job.ID),
			slog.String("error", markErr.Error()),
		)
	}
}

// sleep waits out the poll interval, returning early on shutdown.
func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
