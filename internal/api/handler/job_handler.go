package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/queuectl/internal/api/dto"
	"github.com/cuongbtq/queuectl/internal/queue"
)

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.queue.Enqueue(c.Request.Context(), req.Command, queue.EnqueueOptions{
		JobID:      req.JobID,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			c.JSON(http.StatusConflict, gin.H{"error": "job id already exists"})
			return
		}
		h.logger.Error("failed to enqueue job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusCreated, toJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.queue.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	if req.State != "" && !queue.ValidState(req.State) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job state"})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	jobs, err := h.queue.ListJobsPage(c.Request.Context(), queue.JobFilter{
		State:    req.State,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&queue.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.queue.RetryFromDLQ(c.Request.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, queue.ErrNotInDLQ):
			c.JSON(http.StatusConflict, gin.H{"error": "job is not in the dead letter queue"})
		default:
			h.logger.Error("failed to retry job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "state": queue.StatePending})
}

// ResetStuck handles POST /api/v1/jobs/reset-stuck
func (h *JobHandler) ResetStuck(c *gin.Context) {
	threshold := h.stuckTimeout
	if c.Request.ContentLength > 0 {
		var req dto.ResetStuckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.TimeoutSeconds <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_seconds must be positive"})
			return
		}
		threshold = time.Duration(req.TimeoutSeconds) * time.Second
	}

	count, err := h.queue.ResetStuck(c.Request.Context(), threshold)
	if err != nil {
		h.logger.Error("failed to reset stuck jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset stuck jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset": count})
}

// Stats handles GET /api/v1/stats
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to compute stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"states": stats})
}

// GetConfig handles GET /api/v1/config
func (h *JobHandler) GetConfig(c *gin.Context) {
	values, err := h.queue.AllConfig(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to read config", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read config"})
		return
	}

	c.JSON(http.StatusOK, values)
}

// SetConfig handles PUT /api/v1/config
func (h *JobHandler) SetConfig(c *gin.Context) {
	var req dto.SetConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.queue.SetConfig(c.Request.Context(), req.Key, req.Value); err != nil {
		h.logger.Error("failed to set config", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set config"})
		return
	}

	c.JSON(http.StatusOK, gin.H{req.Key: req.Value})
}

func toJobDTO(job *queue.Job) dto.JobDTO {
	d := dto.JobDTO{
		ID:         job.ID,
		Command:    job.Command,
		State:      job.State,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ErrorMessage != nil {
		d.ErrorMessage = *job.ErrorMessage
	}
	if job.NextRetryAt != nil {
		d.NextRetryAt = job.NextRetryAt.Format(time.RFC3339)
	}
	return d
}
