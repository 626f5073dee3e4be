package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/queue"
	"github.com/sitegrade/sitegrade/internal/scan"
)

type submitScanRequest struct {
	URL       string   `json:"url" validate:"required,url"`
	Viewports []string `json:"viewports" validate:"omitempty,dive,required"`
	PageLimit *int     `json:"page_limit" validate:"omitempty,gt=0"`
}

// submitScan handles POST /v1/scans. It validates the request, resolves
// viewport presets, and registers the job with the queue. The 202
// response carries the job snapshot taken right after the scheduling
// pass, so a caller sees either scanning or a queue position.
func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req submitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}
	viewports, err := s.cfg.ResolveViewports(req.Viewports)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	job, err := s.manager.Submit(r.Context(), queue.Submission{
		URL:       req.URL,
		Viewports: viewports,
		PageLimit: s.pageLimit(req.PageLimit),
	})
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "scan queue is shut down")
			return
		}
		s.logger.Error("submit scan failed", zap.Error(err), zap.String("url", req.URL))
		s.writeError(w, r, http.StatusInternalServerError, "internal", "failed to submit scan")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

// getScan handles GET /v1/scans/{job_id} and returns the full snapshot,
// including the report once the scan is complete.
func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scan.ErrJobNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		s.logger.Error("load job failed", zap.Error(err), zap.String("job_id", jobID))
		s.writeError(w, r, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// listScans handles GET /v1/scans. Reports are stripped to keep the
// listing small; fetch a single job for the full payload.
func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.manager.Jobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	for i := range jobs {
		jobs[i].Report = nil
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// pageLimit applies the configured default and hard cap to a requested
// page count.
func (s *Server) pageLimit(requested *int) int {
	limit := s.cfg.Crawler.MaxPages
	if requested != nil {
		limit = *requested
	}
	if upper := s.cfg.Crawler.MaxPageLimit; upper > 0 && limit > upper {
		limit = upper
	}
	return limit
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		ve := verrs[0]
		return fmt.Sprintf("validation error: %s - %s", ve.Field(), ve.Tag())
	}
	return "validation error: invalid request"
}
