package dto

// CreateJobRequest is the POST /api/v1/jobs body.
type CreateJobRequest struct {
	Command    string `json:"command" binding:"required"`
	JobID      string `json:"id"`
	MaxRetries *int   `json:"max_retries"`
}

// ListJobsRequest captures the query parameters of GET /api/v1/jobs.
type ListJobsRequest struct {
	State    string `form:"state"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is the paginated job listing.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the wire representation of a job.
type JobDTO struct {
	ID           string `json:"id"`
	Command      string `json:"command"`
	State        string `json:"state"`
	Attempts     int    `json:"attempts"`
	MaxRetries   int    `json:"max_retries"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	ErrorMessage string `json:"error_message,omitempty"`
	NextRetryAt  string `json:"next_retry_at,omitempty"`
}

// SetConfigRequest is the PUT /api/v1/config body.
type SetConfigRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// ResetStuckRequest is the POST /api/v1/jobs/reset-stuck body.
type ResetStuckRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}
