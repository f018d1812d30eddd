package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"wolfroute/internal/jobs"
	"wolfroute/internal/model"
)

// JobsHandler handles GET/POST /v1/jobs
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		req := model.JobCreate{Config: jobs.DefaultConfig()}
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.DatasetID) == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid job", "datasetId is required", r.URL.Path)
			return
		}
		job, err := s.Jobs.Create(r.Context(), req)
		if err != nil {
			s.writeError(w, r, "Create job failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	case http.MethodGet:
		q := r.URL.Query()
		if err := validateStatus(q.Get("status")); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
			return
		}
		skip, err := intParam(q, "skip", 0)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
			return
		}
		limit, err := intParam(q, "limit", 100)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid filter", err.Error(), r.URL.Path)
			return
		}
		items, total, err := s.Jobs.List(r.Context(), model.JobFilter{
			DatasetID: q.Get("datasetId"),
			Status:    model.JobStatus(q.Get("status")),
			Skip:      skip,
			Limit:     limit,
		})
		if err != nil {
			s.writeError(w, r, "List jobs failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// JobByIDHandler handles /v1/jobs/{id} and its start, run, cancel,
// events/stream and ws sub-resources.
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	action := strings.Join(parts[1:], "/")
	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getJob(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.Jobs.Delete(r.Context(), id); err != nil {
			s.writeError(w, r, "Delete job failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "start" && r.Method == http.MethodPost:
		if _, err := s.Jobs.Start(r.Context(), id); err != nil {
			s.writeError(w, r, "Start job failed", err)
			return
		}
		s.respondJob(w, r, id, http.StatusAccepted)
	case action == "run" && r.Method == http.MethodPost:
		res, err := s.Jobs.Run(r.Context(), id)
		if err != nil {
			s.writeError(w, r, "Run job failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case action == "cancel" && r.Method == http.MethodPost:
		if err := s.Jobs.Cancel(r.Context(), id); err != nil {
			s.writeError(w, r, "Cancel job failed", err)
			return
		}
		s.respondJob(w, r, id, http.StatusAccepted)
	case action == "result" && r.Method == http.MethodGet:
		res, err := s.Jobs.Result(r.Context(), id)
		if err != nil {
			s.writeError(w, r, "Get result failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case action == "events/stream" && r.Method == http.MethodGet:
		s.streamJobSSE(w, r, id)
	case action == "ws" && r.Method == http.MethodGet:
		s.streamJobWS(w, r, id)
	case action == "" || action == "start" || action == "run" || action == "cancel" ||
		action == "result" || action == "events/stream" || action == "ws":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.Jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, "Get job failed", err)
		return
	}
	resp := model.JobResponse{Job: job}
	if job.Status == model.JobCompleted {
		res, err := s.Jobs.Result(r.Context(), id)
		if err != nil && !errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, r, "Get result failed", err)
			return
		}
		if err == nil {
			resp.Result = &res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJob(w http.ResponseWriter, r *http.Request, id string, status int) {
	job, err := s.Jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, "Get job failed", err)
		return
	}
	writeJSON(w, status, job)
}

// OptimizeHandler handles POST /v1/optimize: an unpersisted solve that
// returns when the result is ready. Closing the request cancels it.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req := model.OptimizationRequest{Config: jobs.DefaultConfig()}
	if !decodeJSON(w, r, &req) {
		return
	}
	h, err := s.submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "Optimize failed", err)
		return
	}
	res, err := h.Wait(r.Context())
	if err != nil {
		s.writeError(w, r, "Optimize failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) submit(ctx context.Context, req model.OptimizationRequest) (*jobs.Handle, error) {
	cfg, err := jobs.SolverConfig(req.Config)
	if err != nil {
		return nil, err
	}
	in, err := jobs.Instance(req.VRPData, req.Config.VehicleCapacity)
	if err != nil {
		return nil, err
	}
	return s.Jobs.Submit(ctx, in, cfg)
}

// OptimizerConfigHandler returns the default optimization config and its bounds.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults": jobs.DefaultConfig(),
		"bounds":   jobs.ConfigBounds(),
	})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "activeJobs": s.Jobs.ActiveCount()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
