package queue

import "time"

// Job states. "dlq" is a legacy label accepted on read paths as a synonym
// for StateDead; it is never written.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateDead       = "dead"

	stateLegacyDLQ = "dlq"
)

// Job is the unit of work: a shell command with retry bookkeeping.
type Job struct {
	ID           string     `db:"id" json:"id"`
	Command      string     `db:"command" json:"command"`
	State        string     `db:"state" json:"state"`
	Attempts     int        `db:"attempts" json:"attempts"`
	MaxRetries   int        `db:"max_retries" json:"max_retries"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	NextRetryAt  *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
}

// IsDead reports whether the job sits in the dead-letter queue, accepting
// the legacy state label.
func (j *Job) IsDead() bool {
	return j.State == StateDead || j.State == stateLegacyDLQ
}

// ValidState reports whether s names a known job state, including the
// legacy DLQ alias.
func ValidState(s string) bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateDead, stateLegacyDLQ:
		return true
	}
	return false
}
