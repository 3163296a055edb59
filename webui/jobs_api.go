package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sdqueue/db"
	"sdqueue/jobs"
)

// queueFullRetry is the Retry-After hint sent with 503 responses.
const queueFullRetry = 5

// GenerateResponse is the 201 body of POST /generate.
type GenerateResponse struct {
	ID            int64       `json:"id"`
	Status        jobs.Status `json:"status"`
	Prompt        string      `json:"prompt"`
	QueuePosition int         `json:"queue_position"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "ValidationError", "request body too large")
			return
		}
		writeRejection(w, "body", "must be a JSON object")
		return
	}

	// Defaults are read per request so configuration changes apply to the
	// next submission.
	params, err := jobs.Validate(req, s.settings.Current().JobDefaults())
	if err != nil {
		var rej *jobs.Rejection
		if errors.As(err, &rej) {
			writeRejection(w, rej.Field, rej.Reason)
			return
		}
		writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}

	job, pos, err := s.queue.Enqueue(params)
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		w.Header().Set("Retry-After", strconv.Itoa(queueFullRetry))
		writeError(w, http.StatusServiceUnavailable, "QueueFull", "queue is full, retry later")
		return
	case errors.Is(err, jobs.ErrQueueClosed):
		w.Header().Set("Retry-After", strconv.Itoa(queueFullRetry))
		writeError(w, http.StatusServiceUnavailable, "QueueClosed", "server is shutting down")
		return
	case err != nil:
		s.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "could not queue job")
		return
	}

	w.Header().Set("Location", "/jobs/"+strconv.FormatInt(job.ID, 10))
	writeJSON(w, http.StatusCreated, GenerateResponse{
		ID:            job.ID,
		Status:        job.Status,
		Prompt:        job.Params.Prompt,
		QueuePosition: pos,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeNotFound(w)
		return
	}
	detail, err := s.queue.Detail(id)
	if err != nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(r)
	if !ok {
		writeNotFound(w)
		return
	}
	job, err := s.queue.Cancel(id)
	switch {
	case errors.Is(err, jobs.ErrNotCancellable):
		writeError(w, http.StatusConflict, "NotCancellable", "job is no longer queued")
		return
	case err != nil:
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Health())
}

// ArchiveResponse is the body of GET /archive.
type ArchiveResponse struct {
	Jobs   []jobs.Job `json:"jobs"`
	Counts db.Counts  `json:"counts"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "NotFound", "job archive is disabled")
		return
	}
	limit, ok := queryInt(r, "limit", 50)
	if !ok || limit < 1 {
		writeRejection(w, "limit", "must be a positive integer")
		return
	}

	recent, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("archive query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "archive unavailable")
		return
	}
	counts, err := s.archive.Counts(r.Context())
	if err != nil {
		s.logger.Error("archive count failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ArchiveResponse{Jobs: recent, Counts: counts})
}

func jobID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
