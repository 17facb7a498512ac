package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/cuongbtq/queuectl/shared/database"
)

const stuckResetMessage = "job was stuck in processing state and reset"

const jobColumns = "id, command, state, attempts, max_retries, created_at, updated_at, error_message, next_retry_at"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		error_message TEXT,
		next_retry_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs (state)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_next_retry_at ON jobs (next_retry_at)`,
	`CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Store persists job and config rows. It holds no job state in memory:
// every operation is a fresh read/write against the database, so a single
// Store may be shared by any number of callers.
type Store struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

// NewStore bootstraps the schema, seeds default config values, and returns
// a ready Store. Seeding is idempotent: existing config values are never
// overwritten.
func NewStore(client *database.Client, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:     client.DB(),
		driver: client.Driver(),
		logger: logger,
	}

	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	if err := s.seedConfig(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) seedConfig() error {
	query := s.db.Rebind(`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`)
	for key, value := range configDefaults {
		if _, err := s.db.Exec(query, key, value); err != nil {
			return fmt.Errorf("failed to seed config key %s: %w", key, err)
		}
	}
	return nil
}

// CreateJob inserts a new pending job row.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := s.db.Rebind(`
		INSERT INTO jobs (id, command, state, attempts, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Command,
		job.State,
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob fetches a single job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var job Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ClaimJobs atomically selects up to limit eligible pending jobs, oldest
// first, and flips them to processing. Selection and mutation happen in one
// UPDATE statement, so two concurrent callers can never claim the same row.
// On Postgres the inner select takes row locks with SKIP LOCKED; on SQLite
// the engine's single-writer serialization makes the bare statement
// sufficient.
func (s *Store) ClaimJobs(ctx context.Context, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	locking := ""
	if s.driver == database.DriverPostgres {
		locking = " FOR UPDATE SKIP LOCKED"
	}

	query := s.db.Rebind(`
		UPDATE jobs
		SET state = ?, updated_at = ?, next_retry_at = NULL
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state = ?
			  AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY created_at ASC, id ASC
			LIMIT ?` + locking + `
		)
		RETURNING ` + jobColumns)

	rows, err := s.db.QueryxContext(ctx, query,
		StateProcessing, now, StatePending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.StructScan(&job); err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	return jobs, nil
}

// CompleteJob transitions a processing job to completed and clears its
// error message.
func (s *Store) CompleteJob(ctx context.Context, jobID string, now time.Time) error {
	query := s.db.Rebind(`
		UPDATE jobs
		SET state = ?, updated_at = ?, error_message = NULL
		WHERE id = ? AND state = ?
	`)

	res, err := s.db.ExecContext(ctx, query, StateCompleted, now, jobID, StateProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return s.checkTransition(ctx, res, jobID)
}

// FailJob applies the retry/backoff/DLQ policy to a processing job:
// increments attempts, then either schedules a retry with exponential
// backoff or moves the job to the dead-letter queue once attempts reach
// max_retries.
func (s *Store) FailJob(ctx context.Context, jobID, errorMessage string, backoffBase float64, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ? AND state = ?`),
		now, jobID, StateProcessing)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if affected == 0 {
		// Nothing mutated; resolve NotFound vs InvalidTransition on the
		// transaction's connection.
		var one int
		err := tx.GetContext(ctx, &one, tx.Rebind(`SELECT 1 FROM jobs WHERE id = ?`), jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to look up job: %w", err)
		}
		return ErrInvalidTransition
	}

	var row struct {
		Attempts   int `db:"attempts"`
		MaxRetries int `db:"max_retries"`
	}
	err = tx.GetContext(ctx, &row,
		tx.Rebind(`SELECT attempts, max_retries FROM jobs WHERE id = ?`), jobID)
	if err != nil {
		return fmt.Errorf("failed to read attempt count: %w", err)
	}

	if row.Attempts >= row.MaxRetries {
		_, err = tx.ExecContext(ctx,
			tx.Rebind(`UPDATE jobs SET state = ?, updated_at = ?, error_message = ?, next_retry_at = NULL WHERE id = ?`),
			StateDead, now, errorMessage, jobID)
		if err != nil {
			return fmt.Errorf("failed to move job to dead letter queue: %w", err)
		}
	} else {
		nextRetryAt := now.Add(backoffDelay(backoffBase, row.Attempts))
		_, err = tx.ExecContext(ctx,
			tx.Rebind(`UPDATE jobs SET state = ?, updated_at = ?, error_message = ?, next_retry_at = ? WHERE id = ?`),
			StatePending, now, errorMessage, nextRetryAt, jobID)
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure: %w", err)
	}

	return nil
}

// RetryDLQJob resets a dead job to pending with a clean slate. It accepts
// the legacy "dlq" state label on the read side.
func (s *Store) RetryDLQJob(ctx context.Context, jobID string, now time.Time) error {
	query := s.db.Rebind(`
		UPDATE jobs
		SET state = ?, attempts = 0, updated_at = ?, error_message = NULL, next_retry_at = NULL
		WHERE id = ? AND state IN (?, ?)
	`)

	res, err := s.db.ExecContext(ctx, query, StatePending, now, jobID, StateDead, stateLegacyDLQ)
	if err != nil {
		return fmt.Errorf("failed to retry dead job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to retry dead job: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
		return ErrNotInDLQ
	}

	return nil
}

// ResetStuckJobs bulk-transitions processing jobs whose updated_at predates
// the threshold back to pending, annotating them so operators can tell the
// reset apart from a normal retry. Returns the number of jobs reset.
func (s *Store) ResetStuckJobs(ctx context.Context, threshold, now time.Time) (int64, error) {
	query := s.db.Rebind(`
		UPDATE jobs
		SET state = ?, updated_at = ?, error_message = ?
		WHERE state = ? AND updated_at < ?
	`)

	res, err := s.db.ExecContext(ctx, query, StatePending, now, stuckResetMessage, StateProcessing, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck jobs: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck jobs: %w", err)
	}

	return count, nil
}

// ListJobs returns jobs newest first, optionally filtered by state. A
// filter of "dead" or "dlq" matches both labels.
func (s *Store) ListJobs(ctx context.Context, state string) ([]Job, error) {
	var (
		query string
		args  []interface{}
	)

	switch state {
	case "":
		query = `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`
	case StateDead, stateLegacyDLQ:
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE state IN (?, ?) ORDER BY created_at DESC`
		args = append(args, StateDead, stateLegacyDLQ)
	default:
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE state = ? ORDER BY created_at DESC`
		args = append(args, state)
	}

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// JobCursor marks a position in the created_at-descending job listing.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobFilter narrows and paginates a job listing.
type JobFilter struct {
	State    string
	PageSize int
	Cursor   *JobCursor
}

// ListJobsPage returns up to PageSize+1 jobs newest first; the extra row
// lets callers detect whether another page exists.
func (s *Store) ListJobsPage(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}

	switch filter.State {
	case "":
	case StateDead, stateLegacyDLQ:
		query += ` AND state IN (?, ?)`
		args = append(args, StateDead, stateLegacyDLQ)
	default:
		query += ` AND state = ?`
		args = append(args, filter.State)
	}

	if filter.Cursor != nil {
		query += ` AND (created_at, id) < (?, ?)`
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.PageSize+1)

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ListDLQJobs returns dead-letter jobs, most recently failed first.
func (s *Store) ListDLQJobs(ctx context.Context) ([]Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE state IN (?, ?)
		ORDER BY updated_at DESC
	`)

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, query, StateDead, stateLegacyDLQ); err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}

	return jobs, nil
}

// CountJobsByState returns a state → count summary.
func (s *Store) CountJobsByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to count jobs: %w", err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	return counts, nil
}

// GetConfig reads a config value, returning fallback when the key is absent.
func (s *Store) GetConfig(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM config WHERE key = ?`), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fallback, nil
		}
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}

// SetConfig upserts a config value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	query := s.db.Rebind(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`)

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}

	return nil
}

// AllConfig returns every config key/value pair.
func (s *Store) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return values, nil
}

// checkTransition maps a zero-row single-job update to NotFound or
// InvalidTransition.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}
