package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"wolfroute/internal/ingest"
	"wolfroute/internal/jobs"
	"wolfroute/internal/model"
	"wolfroute/internal/opt"
)

// DatasetsHandler handles GET/POST /v1/datasets
func (s *Server) DatasetsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.DatasetCreate
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid dataset", "name is required", r.URL.Path)
			return
		}
		// capacity is chosen per job; any positive value validates the data
		if _, err := jobs.Instance(req.VRPData, 1); err != nil {
			s.writeError(w, r, "Invalid dataset", err)
			return
		}
		ds := ingest.NewDataset(req.Name, req.Description, model.FormatInline, req.VRPData, 0)
		saved, err := s.Store.CreateDataset(r.Context(), ds)
		if err != nil {
			s.writeError(w, r, "Create dataset failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved.DatasetMeta)
	case http.MethodGet:
		limit, err := intParam(r.URL.Query(), "limit", 100)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error(), r.URL.Path)
			return
		}
		items, next, err := s.Store.ListDatasets(r.Context(), r.URL.Query().Get("cursor"), limit)
		if err != nil {
			s.writeError(w, r, "List datasets failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// DatasetByIDHandler handles GET/DELETE /v1/datasets/{id} plus
// POST /v1/datasets/generate, GET /v1/datasets/scan and POST /v1/datasets/ingest.
func (s *Server) DatasetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/datasets/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch {
	case id == "generate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.generateDataset(w, r)
	case id == "scan":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		dirs, err := s.dataDirs(r.URL.Query()["dir"])
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid directory", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, ingest.Scan(dirs))
	case id == "ingest":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req model.IngestRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Paths) == 0 {
			writeJSON(w, http.StatusOK, s.Ingest.AutoIngest(r.Context(), s.Cfg.DataDirs))
			return
		}
		for _, p := range req.Paths {
			if !s.underDataDir(p) {
				writeProblem(w, http.StatusBadRequest, "Invalid path", fmt.Sprintf("%s is outside the data directories", p), r.URL.Path)
				return
			}
		}
		writeJSON(w, http.StatusOK, s.Ingest.Ingest(r.Context(), req.Paths, req.Overwrite))
	case r.Method == http.MethodGet:
		ds, err := s.Store.GetDataset(r.Context(), id)
		if err != nil {
			s.writeError(w, r, "Get dataset failed", err)
			return
		}
		writeJSON(w, http.StatusOK, ds)
	case r.Method == http.MethodDelete:
		if err := s.Store.DeleteDataset(r.Context(), id); err != nil {
			s.writeError(w, r, "Delete dataset failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) generateDataset(w http.ResponseWriter, r *http.Request) {
	var req model.DatasetGenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := opt.Generate(genParams(req))
	if err != nil {
		s.writeError(w, r, "Generate dataset failed", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("generated-%d", len(in.Customers))
	}
	ds := ingest.NewDataset(name, req.Description, model.FormatGenerated, jobs.VRPData(in), 0)
	saved, err := s.Store.CreateDataset(r.Context(), ds)
	if err != nil {
		s.writeError(w, r, "Create dataset failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved.DatasetMeta)
}

// GenerateInstanceHandler handles POST /v1/instances/generate; the instance
// is returned, not stored.
func (s *Server) GenerateInstanceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.DatasetGenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := opt.Generate(genParams(req))
	if err != nil {
		s.writeError(w, r, "Generate instance failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vrpData":     jobs.VRPData(in),
		"totalDemand": in.TotalDemand(),
	})
}

func genParams(req model.DatasetGenerateRequest) opt.GenParams {
	p := opt.DefaultGenParams()
	if req.NumCustomers != 0 {
		p.Customers = req.NumCustomers
	}
	if req.DemandLow != 0 || req.DemandHigh != 0 {
		p.DemandLow, p.DemandHigh = req.DemandLow, req.DemandHigh
	}
	if req.CenterLat != 0 || req.CenterLng != 0 {
		p.Center = opt.Point{X: req.CenterLat, Y: req.CenterLng}
	}
	if req.Spread != 0 {
		p.Spread = req.Spread
	}
	p.Seed = req.Seed
	p.Clusters = req.Clusters
	p.ClusterSpread = req.ClusterSpread
	if p.Clusters > 0 && p.ClusterSpread == 0 {
		p.ClusterSpread = p.Spread / 5
	}
	return p
}

// dataDirs returns the requested scan roots, or the configured ones when
// none are given. Requested roots must lie under a configured one.
func (s *Server) dataDirs(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return s.Cfg.DataDirs, nil
	}
	for _, d := range requested {
		if !s.underDataDir(d) {
			return nil, fmt.Errorf("%s is outside the data directories", d)
		}
	}
	return requested, nil
}

func (s *Server) underDataDir(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, d := range s.Cfg.DataDirs {
		root, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(root, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
