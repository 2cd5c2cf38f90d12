package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saudeflow/clinic-intake/internal/conversation"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

type jobReader interface {
	GetJob(ctx context.Context, jobID string) (*conversation.JobRecord, error)
}

// JobStatusHandler serves intake job status lookups for the provider callback
// and the staff dashboard.
type JobStatusHandler struct {
	jobs   jobReader
	logger *logging.Logger
}

func NewJobStatusHandler(jobs jobReader, logger *logging.Logger) *JobStatusHandler {
	if jobs == nil {
		panic("handlers: job reader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStatusHandler{jobs: jobs, logger: logger}
}

// GetJob serves GET /jobs/{jobID}.
func (h *JobStatusHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, conversation.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to fetch job", "error", err, "job_id", jobID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, job)
}
