package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

const (
	defaultRunLimit     = 50
	maxRunLimit         = 500
	defaultProjectLimit = 100
	maxProjectLimit     = 1000
)

type submitJobRequest struct {
	Mode            crawler.CrawlMode `json:"mode"`
	Regions         []string          `json:"regions"`
	ExcludeKeywords []string          `json:"exclude_keywords"`
}

// submitJob handles POST /v1/jobs. It answers 202 with the job and run ids,
// 400 for invalid parameters and 503 when the queue is full.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "submit job", err)
		return
	}
	task, err := s.deps.Dispatcher.Submit(r.Context(), crawler.JobParameters{
		Mode:            req.Mode,
		Regions:         req.Regions,
		ExcludeKeywords: req.ExcludeKeywords,
	})
	if err != nil {
		s.fail(w, "submit job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": task.ID,
		"run_id": task.RunID,
		"status": string(task.Status),
	})
}

// listJobs handles GET /v1/jobs?open=true.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.deps.Dispatcher.Tasks(r.Context(), openOnly)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Dispatcher.Task(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": task})
}

// cancelJob handles POST /v1/jobs/{job_id}/cancel. Finished jobs are returned
// unchanged.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Dispatcher.Cancel(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.fail(w, "cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": task})
}

// listRuns handles GET /v1/runs?limit=&offset=, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.deps.Dispatcher.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []crawler.CrawlRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Dispatcher.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.fail(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
