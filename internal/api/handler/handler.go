package handler

import (
	"log/slog"
	"time"

	"github.com/cuongbtq/queuectl/internal/queue"
)

// Dependencies holds everything handlers need.
type Dependencies struct {
	Logger *slog.Logger
	Queue  *queue.Queue
	// StuckTimeout is the reset-stuck threshold used when a request does
	// not supply one; zero falls back to an hour.
	StuckTimeout time.Duration
}

// JobHandler serves the job endpoints.
type JobHandler struct {
	logger       *slog.Logger
	queue        *queue.Queue
	stuckTimeout time.Duration
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(deps *Dependencies) *JobHandler {
	stuckTimeout := deps.StuckTimeout
	if stuckTimeout <= 0 {
		stuckTimeout = time.Hour
	}
	return &JobHandler{
		logger:       deps.Logger,
		queue:        deps.Queue,
		stuckTimeout: stuckTimeout,
	}
}
