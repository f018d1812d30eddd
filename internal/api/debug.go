package api

import (
	"net/http"
	"time"

	"wolfroute/internal/buildinfo"
)

// DebugJSON reports build details, the effective configuration with
// secrets redacted, and coordinator occupancy.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":      buildinfo.Info(),
		"time":       time.Now().UTC().Format(time.RFC3339),
		"config":     s.Cfg.Redacted(),
		"activeJobs": s.Jobs.ActiveCount(),
	})
}
