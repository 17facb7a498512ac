package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config keys stored in the durable config table. They are read at point of
// use, never cached, so changes take effect without restarting workers.
const (
	ConfigKeyMaxRetries  = "max-retries"
	ConfigKeyBackoffBase = "backoff-base"
	ConfigKeyWorkers     = "workers"
)

// Built-in policy defaults, seeded into the config table on first
// initialization.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2.0
	DefaultWorkers     = 1
)

var configDefaults = map[string]string{
	ConfigKeyMaxRetries:  strconv.Itoa(DefaultMaxRetries),
	ConfigKeyBackoffBase: strconv.FormatFloat(DefaultBackoffBase, 'g', -1, 64),
	ConfigKeyWorkers:     strconv.Itoa(DefaultWorkers),
}

// Queue is the narrow facade over the job lifecycle engine. It is stateless
// apart from the store handle and safe for concurrent use.
type Queue struct {
	store  *Store
	logger *slog.Logger
}

// New creates a Queue over an initialized Store.
func New(store *Store, logger *slog.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// EnqueueOptions carries the optional parameters of Enqueue.
type EnqueueOptions struct {
	// JobID supplies a caller-chosen id; a fresh UUID is generated when empty.
	JobID string
	// MaxRetries overrides the max-retries config value when non-nil.
	MaxRetries *int
}

// Enqueue creates a new pending job.
func (q *Queue) Enqueue(ctx context.Context, command string, opts EnqueueOptions) (*Job, error) {
	if command == "" {
		return nil, fmt.Errorf("command must not be empty")
	}

	maxRetries := DefaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	} else {
		var err error
		maxRetries, err = q.MaxRetries(ctx)
		if err != nil {
			return nil, err
		}
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	now := time.Now().UTC()
	job := &Job{
		ID:         jobID,
		Command:    command,
		State:      StatePending,
		Attempts:   0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.Int("max_retries", job.MaxRetries),
	)

	return job, nil
}

// Dequeue claims up to limit eligible pending jobs via the atomic claim
// protocol. The returned jobs are already in the processing state.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]Job, error) {
	jobs, err := q.store.ClaimJobs(ctx, limit, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		q.logger.Debug("job claimed",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
		)
	}

	return jobs, nil
}

// GetJob fetches a job by id.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// MarkCompleted transitions a processing job to completed.
func (q *Queue) MarkCompleted(ctx context.Context, jobID string) error {
	if err := q.store.CompleteJob(ctx, jobID, time.Now().UTC()); err != nil {
		return err
	}

	q.logger.Info("job completed", slog.String("job_id", jobID))
	return nil
}

// MarkFailed records a failed execution: the job either returns to pending
// with an exponential-backoff retry time or moves to the dead-letter queue
// once its attempts reach max_retries.
func (q *Queue) MarkFailed(ctx context.Context, jobID, errorMessage string, backoffBase float64) error {
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}

	if err := q.store.FailJob(ctx, jobID, errorMessage, backoffBase, time.Now().UTC()); err != nil {
		return err
	}

	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.State == StateDead {
		q.logger.Warn("job moved to dead letter queue",
			slog.String("job_id", jobID),
			slog.Int("attempts", job.Attempts),
			slog.String("error", errorMessage),
		)
	} else if job.NextRetryAt != nil {
		q.logger.Info("job scheduled for retry",
			slog.String("job_id", jobID),
			slog.Int("attempts", job.Attempts),
			slog.Time("next_retry_at", *job.NextRetryAt),
		)
	}

	return nil
}

// RetryFromDLQ resets a dead job to pending with zero attempts and no
// error; it becomes claimable immediately.
func (q *Queue) RetryFromDLQ(ctx context.Context, jobID string) error {
	if err := q.store.RetryDLQJob(ctx, jobID, time.Now().UTC()); err != nil {
		return err
	}

	q.logger.Info("dead job requeued", slog.String("job_id", jobID))
	return nil
}

// ResetStuck returns jobs abandoned in processing for longer than timeout
// to the pending state. This is the crash-recovery path for workers that
// died without reporting an outcome.
func (q *Queue) ResetStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	now := time.Now().UTC()
	count, err := q.store.ResetStuckJobs(ctx, now.Add(-timeout), now)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		q.logger.Warn("stuck jobs reset",
			slog.Int64("count", count),
			slog.Duration("timeout", timeout),
		)
	}

	return count, nil
}

// ListJobs returns jobs newest first, optionally filtered by state.
func (q *Queue) ListJobs(ctx context.Context, state string) ([]Job, error) {
	if state != "" && !ValidState(state) {
		return nil, fmt.Errorf("unknown job state: %s", state)
	}
	return q.store.ListJobs(ctx, state)
}

// ListJobsPage returns a page of jobs newest first; see Store.ListJobsPage.
func (q *Queue) ListJobsPage(ctx context.Context, filter JobFilter) ([]Job, error) {
	if filter.State != "" && !ValidState(filter.State) {
		return nil, fmt.Errorf("unknown job state: %s", filter.State)
	}
	return q.store.ListJobsPage(ctx, filter)
}

// ListDLQ returns dead-letter jobs, most recently failed first.
func (q *Queue) ListDLQ(ctx context.Context) ([]Job, error) {
	return q.store.ListDLQJobs(ctx)
}

// Stats returns a state → count summary of all jobs.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	return q.store.CountJobsByState(ctx)
}

// MaxRetries resolves the max-retries config value.
func (q *Queue) MaxRetries(ctx context.Context) (int, error) {
	raw, err := q.store.GetConfig(ctx, ConfigKeyMaxRetries, strconv.Itoa(DefaultMaxRetries))
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		q.logger.Warn("invalid max-retries config, using default", slog.String("value", raw))
		return DefaultMaxRetries, nil
	}
	return value, nil
}

// BackoffBase resolves the backoff-base config value.
func (q *Queue) BackoffBase(ctx context.Context) (float64, error) {
	raw, err := q.store.GetConfig(ctx, ConfigKeyBackoffBase, strconv.FormatFloat(DefaultBackoffBase, 'g', -1, 64))
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		q.logger.Warn("invalid backoff-base config, using default", slog.String("value", raw))
		return DefaultBackoffBase, nil
	}
	return value, nil
}

// Workers resolves the workers config value, the default worker pool size.
func (q *Queue) Workers(ctx context.Context) (int, error) {
	raw, err := q.store.GetConfig(ctx, ConfigKeyWorkers, strconv.Itoa(DefaultWorkers))
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		q.logger.Warn("invalid workers config, using default", slog.String("value", raw))
		return DefaultWorkers, nil
	}
	return value, nil
}

// SetConfig writes a config value.
func (q *Queue) SetConfig(ctx context.Context, key, value string) error {
	return q.store.SetConfig(ctx, key, value)
}

// GetConfigValue reads a single config value; ok is false when the key is
// absent.
func (q *Queue) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	values, err := q.store.AllConfig(ctx)
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

// AllConfig returns every config key/value pair.
func (q *Queue) AllConfig(ctx context.Context) (map[string]string, error) {
	return q.store.AllConfig(ctx)
}

// backoffDelay computes the retry delay for the given post-increment
// attempt count: base^attempts seconds.
func backoffDelay(base float64, attempts int) time.Duration {
	seconds := math.Pow(base, float64(attempts))
	return time.Duration(seconds * float64(time.Second))
}
