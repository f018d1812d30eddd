package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"wolfroute/internal/jobs"
	"wolfroute/internal/logging"
	"wolfroute/internal/opt"
	"wolfroute/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, opt.ErrInvalidConfig):
		status, title = http.StatusBadRequest, "Invalid configuration"
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, jobs.ErrInvalidState):
		status, title = http.StatusConflict, "Invalid job state"
	case errors.Is(err, jobs.ErrCancelled):
		status, title = http.StatusConflict, "Job cancelled"
	case errors.Is(err, jobs.ErrShutdown):
		status, title = http.StatusServiceUnavailable, "Shutting down"
	case errors.Is(err, jobs.ErrFailed):
		status, title = http.StatusUnprocessableEntity, "Job failed"
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.Log).Error(err, title, "path", r.URL.Path)
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}

// decodeJSON reads the request body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20))
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}
