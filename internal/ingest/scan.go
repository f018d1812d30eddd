package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"wolfroute/internal/model"
	"wolfroute/internal/store"
)

// Scan walks dirs and reports every instance file found, valid or not.
// Missing directories are skipped.
func Scan(dirs []string) model.ScanResponse {
	out := model.ScanResponse{ScannedPaths: []string{}, Found: []model.ScanResult{}}
	for _, dir := range dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		out.ScannedPaths = append(out.ScannedPaths, dir)
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if res, ok := scanFile(path); ok {
				out.Found = append(out.Found, res)
			}
			return nil
		})
	}
	for _, r := range out.Found {
		if r.Valid {
			out.TotalValid++
		}
	}
	out.TotalFound = len(out.Found)
	return out
}

func scanFile(path string) (model.ScanResult, bool) {
	if Detect(path, nil) == "" {
		return model.ScanResult{}, false
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parsed, format, err := ParseFile(path)
	if err != nil {
		return model.ScanResult{Path: path, Format: format, Name: name, Error: err.Error()}, true
	}
	return model.ScanResult{
		Path:         path,
		Format:       format,
		Name:         name,
		NumCustomers: len(parsed.Data.Customers),
		TotalDemand:  parsed.Data.TotalDemand(),
		Valid:        len(parsed.Data.Customers) > 0,
	}, true
}

// DatasetStore is the part of store.Store ingestion writes to.
type DatasetStore interface {
	CreateDataset(ctx context.Context, ds model.Dataset) (model.Dataset, error)
	FindDatasetByFingerprint(ctx context.Context, fingerprint string) (model.Dataset, error)
}

type Ingester struct {
	Store DatasetStore
	Log   logr.Logger
}

// Ingest parses and stores each path. Content already stored (same
// fingerprint) is reported as failed unless overwrite is set, in which case
// the existing dataset is replaced in place.
func (in *Ingester) Ingest(ctx context.Context, paths []string, overwrite bool) model.IngestResponse {
	resp := model.IngestResponse{Ingested: []model.DatasetMeta{}, Failed: []model.IngestFailure{}}
	fail := func(path string, err error) {
		resp.Failed = append(resp.Failed, model.IngestFailure{Path: path, Error: err.Error()})
	}
	for _, path := range paths {
		parsed, format, err := ParseFile(path)
		if err != nil {
			fail(path, err)
			continue
		}
		if len(parsed.Data.Customers) == 0 {
			fail(path, errors.New("no customers"))
			continue
		}
		base := filepath.Base(path)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		ds := NewDataset(name, "Imported from "+base, format, parsed.Data, parsed.Capacity)
		ds.FilePath = path

		existing, err := in.Store.FindDatasetByFingerprint(ctx, ds.Fingerprint)
		switch {
		case err == nil && !overwrite:
			fail(path, fmt.Errorf("already ingested as dataset %s", existing.ID))
			continue
		case err == nil:
			ds.ID, ds.CreatedAt = existing.ID, existing.CreatedAt
		case !errors.Is(err, store.ErrNotFound):
			fail(path, err)
			continue
		}
		saved, err := in.Store.CreateDataset(ctx, ds)
		if err != nil {
			fail(path, err)
			continue
		}
		in.Log.V(1).Info("dataset ingested", "path", path, "dataset", saved.ID, "customers", saved.NumCustomers)
		resp.Ingested = append(resp.Ingested, saved.DatasetMeta)
	}
	resp.TotalIngested, resp.TotalFailed = len(resp.Ingested), len(resp.Failed)
	return resp
}

// AutoIngest scans dirs and ingests every valid file that is not stored yet.
func (in *Ingester) AutoIngest(ctx context.Context, dirs []string) model.IngestResponse {
	var paths []string
	for _, r := range Scan(dirs).Found {
		if r.Valid {
			paths = append(paths, r.Path)
		}
	}
	return in.Ingest(ctx, paths, false)
}
