package queue

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/queuectl/shared/database"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "queue.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store, err := NewStore(client, logger)
	require.NoError(t, err)

	return New(store, logger)
}

// rewindRetry moves a job's next_retry_at into the past so it becomes
// eligible without waiting out the backoff.
func rewindRetry(t *testing.T, q *Queue, jobID string) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute)
	_, err := q.store.db.Exec(q.store.db.Rebind(
		`UPDATE jobs SET next_retry_at = ? WHERE id = ?`), past, jobID)
	require.NoError(t, err)
}

// ageJob pushes a job's updated_at into the past to simulate an abandoned
// worker.
func ageJob(t *testing.T, q *Queue, jobID string, age time.Duration) {
	t.Helper()
	old := time.Now().UTC().Add(-age)
	_, err := q.store.db.Exec(q.store.db.Rebind(
		`UPDATE jobs SET updated_at = ? WHERE id = ?`), old, jobID)
	require.NoError(t, err)
}

func claimOne(t *testing.T, q *Queue) Job {
	t.Helper()
	jobs, err := q.Dequeue(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestEnqueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	t.Run("defaults from config", func(t *testing.T) {
		job, err := q.Enqueue(ctx, "echo hello", EnqueueOptions{})
		require.NoError(t, err)

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, StatePending, job.State)
		assert.Equal(t, 0, job.Attempts)
		assert.Equal(t, DefaultMaxRetries, job.MaxRetries)
		assert.Nil(t, job.NextRetryAt)
	})

	t.Run("explicit max retries and id", func(t *testing.T) {
		five := 5
		job, err := q.Enqueue(ctx, "echo hi", EnqueueOptions{JobID: "job-1", MaxRetries: &five})
		require.NoError(t, err)
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, 5, job.MaxRetries)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		_, err := q.Enqueue(ctx, "echo again", EnqueueOptions{JobID: "job-1"})
		assert.ErrorIs(t, err, ErrDuplicateJob)
	})

	t.Run("empty command rejected", func(t *testing.T) {
		_, err := q.Enqueue(ctx, "", EnqueueOptions{})
		assert.Error(t, err)
	})

	t.Run("max retries config change applies without restart", func(t *testing.T) {
		require.NoError(t, q.SetConfig(ctx, ConfigKeyMaxRetries, "7"))
		job, err := q.Enqueue(ctx, "echo cfg", EnqueueOptions{})
		require.NoError(t, err)
		assert.Equal(t, 7, job.MaxRetries)
	})
}

func TestDequeue_FIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 3; i++ {
		job, err := q.Enqueue(ctx, "true", EnqueueOptions{})
		require.NoError(t, err)
		want = append(want, job.ID)
		time.Sleep(2 * time.Millisecond) // distinct created_at
	}

	for _, id := range want {
		job := claimOne(t, q)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, StateProcessing, job.State)
		assert.Nil(t, job.NextRetryAt)
	}

	jobs, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDequeue_EligibilityGating(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "false", EnqueueOptions{})
	require.NoError(t, err)

	claimOne(t, q)
	require.NoError(t, q.MarkFailed(ctx, job.ID, "exit status 1", 60))

	// Retry is scheduled a minute out; the job must not be claimable.
	jobs, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	got, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	require.NotNil(t, got.NextRetryAt)

	// Once the retry time has passed it becomes claimable again.
	rewindRetry(t, q, job.ID)
	claimed := claimOne(t, q)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestMarkFailed_BackoffAndDLQ(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "false", EnqueueOptions{})
	require.NoError(t, err)

	// First failure: retry in backoff_base^1 = 2s.
	claimOne(t, q)
	require.NoError(t, q.MarkFailed(ctx, job.ID, "boom", 2))

	got, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Second), *got.NextRetryAt, time.Second)

	// Second failure: retry in backoff_base^2 = 4s.
	rewindRetry(t, q, job.ID)
	claimOne(t, q)
	require.NoError(t, q.MarkFailed(ctx, job.ID, "boom again", 2))

	got, err = q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, time.Now().UTC().Add(4*time.Second), *got.NextRetryAt, time.Second)

	// Third failure exhausts max_retries=3: dead, no retry scheduled.
	rewindRetry(t, q, job.ID)
	claimOne(t, q)
	require.NoError(t, q.MarkFailed(ctx, job.ID, "final", 2))

	got, err = q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDead, got.State)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "final", *got.ErrorMessage)
	assert.Nil(t, got.NextRetryAt)

	// Dead jobs are not claimable.
	jobs, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDLQRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	one := 1
	job, err := q.Enqueue(ctx, "false", EnqueueOptions{MaxRetries: &one})
	require.NoError(t, err)

	claimOne(t, q)
	require.NoError(t, q.MarkFailed(ctx, job.ID, "dead on first failure", 2))

	got, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StateDead, got.State)

	require.NoError(t, q.RetryFromDLQ(ctx, job.ID))

	got, err = q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.NextRetryAt)

	// Immediately claimable again.
	claimed := claimOne(t, q)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestRetryFromDLQ_Errors(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "true", EnqueueOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, q.RetryFromDLQ(ctx, job.ID), ErrNotInDLQ)
	assert.ErrorIs(t, q.RetryFromDLQ(ctx, "no-such-job"), ErrJobNotFound)
}

func TestLegacyDLQState(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "true", EnqueueOptions{})
	require.NoError(t, err)

	// Rows written by older deployments may still carry the legacy label.
	_, err = q.store.db.Exec(q.store.db.Rebind(
		`UPDATE jobs SET state = ? WHERE id = ?`), "dlq", job.ID)
	require.NoError(t, err)

	dlq, err := q.ListDLQ(ctx)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, job.ID, dlq[0].ID)

	byState, err := q.ListJobs(ctx, StateDead)
	require.NoError(t, err)
	assert.Len(t, byState, 1)

	require.NoError(t, q.RetryFromDLQ(ctx, job.ID))
	got, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}

func TestResetStuck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	stuck, err := q.Enqueue(ctx, "sleep 9999", EnqueueOptions{})
	require.NoError(t, err)
	fresh, err := q.Enqueue(ctx, "true", EnqueueOptions{})
	require.NoError(t, err)

	jobs, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// Only the aged job matches the threshold; the freshly claimed one must
	// be left alone.
	ageJob(t, q, stuck.ID, 2*time.Hour)

	count, err := q.ResetStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := q.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, stuckResetMessage, *got.ErrorMessage)

	other, err := q.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, other.State)

	// Second sweep with nothing new stuck is a no-op.
	count, err = q.ResetStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestInvalidTransitions(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "true", EnqueueOptions{})
	require.NoError(t, err)

	// pending → completed is not legal; jobs must be claimed first.
	assert.ErrorIs(t, q.MarkCompleted(ctx, job.ID), ErrInvalidTransition)
	assert.ErrorIs(t, q.MarkFailed(ctx, job.ID, "nope", 2), ErrInvalidTransition)

	assert.ErrorIs(t, q.MarkCompleted(ctx, "missing"), ErrJobNotFound)
	assert.ErrorIs(t, q.MarkFailed(ctx, "missing", "nope", 2), ErrJobNotFound)

	claimOne(t, q)
	require.NoError(t, q.MarkCompleted(ctx, job.ID))

	// completed is terminal.
	assert.ErrorIs(t, q.MarkCompleted(ctx, job.ID), ErrInvalidTransition)
	assert.ErrorIs(t, q.MarkFailed(ctx, job.ID, "nope", 2), ErrInvalidTransition)
}

func TestConcurrentClaims_AtMostOnce(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	const jobCount = 24
	for i := 0; i < jobCount; i++ {
		_, err := q.Enqueue(ctx, "true", EnqueueOptions{})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := q.Dequeue(ctx, 3)
				if err != nil {
					t.Error(err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, job := range jobs {
					claimed[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Len(t, claimed, jobCount)
	for id, n := range claimed {
		assert.Equalf(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestStatsAndList(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	one := 1
	a, err := q.Enqueue(ctx, "true", EnqueueOptions{})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "false", EnqueueOptions{MaxRetries: &one})
	require.NoError(t, err)

	jobs, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.NoError(t, q.MarkCompleted(ctx, a.ID))
	require.NoError(t, q.MarkFailed(ctx, b.ID, "exit status 1", 2))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		StateCompleted: 1,
		StateDead:      1,
	}, stats)

	completed, err := q.ListJobs(ctx, StateCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, a.ID, completed[0].ID)

	all, err := q.ListJobs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = q.ListJobs(ctx, "bogus")
	assert.Error(t, err)
}

func TestConfigAccessors(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	// Seeded defaults.
	maxRetries, err := q.MaxRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, maxRetries)

	base, err := q.BackoffBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultBackoffBase, base)

	workers, err := q.Workers(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, workers)

	// Updates are visible on the next read.
	require.NoError(t, q.SetConfig(ctx, ConfigKeyBackoffBase, "3.5"))
	base, err = q.BackoffBase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.5, base)

	// Garbage values fall back to defaults instead of breaking workers.
	require.NoError(t, q.SetConfig(ctx, ConfigKeyWorkers, "many"))
	workers, err = q.Workers(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, workers)

	values, err := q.AllConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.5", values[ConfigKeyBackoffBase])

	value, ok, err := q.GetConfigValue(ctx, ConfigKeyMaxRetries)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", value)

	_, ok, err = q.GetConfigValue(ctx, "unknown-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffDelay(2, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(2, 2))
	assert.Equal(t, 8*time.Second, backoffDelay(2, 3))
	assert.Equal(t, 1500*time.Millisecond, backoffDelay(1.5, 1))
}
