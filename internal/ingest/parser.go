// Package ingest reads VRP instance files (CSV, JSON, TSPLIB/CVRPLIB and a
// plain "id x y demand" layout) into datasets.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"wolfroute/internal/model"
)

var ErrUnsupported = errors.New("unsupported dataset format")

// Parsed is a decoded instance file. Capacity is zero when the file does
// not declare one.
type Parsed struct {
	Data     model.VRPData
	Capacity int
}

// Parser decodes one file format.
type Parser interface {
	Format() model.DatasetFormat
	Parse(r io.Reader) (Parsed, error)
}

var parsers = map[model.DatasetFormat]Parser{
	model.FormatCSV:    csvParser{},
	model.FormatJSON:   jsonParser{},
	model.FormatTSPLIB: tsplibParser{},
	model.FormatVRP:    plainParser{},
}

// ParserFor returns the parser registered for f.
func ParserFor(f model.DatasetFormat) (Parser, error) {
	p, ok := parsers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, f)
	}
	return p, nil
}

// Detect picks a format from the file name and, for ambiguous extensions,
// the first bytes of the file. It returns "" when the file is not an instance.
func Detect(path string, head []byte) model.DatasetFormat {
	ext := strings.ToLower(filepath.Ext(path))
	name := strings.ToLower(filepath.Base(path))
	switch {
	case ext == ".csv":
		return model.FormatCSV
	case ext == ".json":
		return model.FormatJSON
	case ext == ".vrp":
		if looksTSPLIB(head) {
			return model.FormatTSPLIB
		}
		return model.FormatVRP
	case ext == ".txt" || ext == ".tsp" || strings.Contains(name, "vrp"):
		if looksTSPLIB(head) {
			return model.FormatTSPLIB
		}
		return model.FormatVRP
	}
	return ""
}

func looksTSPLIB(head []byte) bool {
	return bytes.Contains(head, []byte("NODE_COORD_SECTION")) || bytes.Contains(head, []byte("DIMENSION"))
}

// ParseFile detects the format of path and parses it.
func ParseFile(path string) (Parsed, model.DatasetFormat, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Parsed{}, "", err
	}
	head := b
	if len(head) > 512 {
		head = head[:512]
	}
	f := Detect(path, head)
	if f == "" {
		return Parsed{}, "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
	p, err := ParserFor(f)
	if err != nil {
		return Parsed{}, f, err
	}
	parsed, err := p.Parse(bytes.NewReader(b))
	if err != nil {
		return Parsed{}, f, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return parsed, f, nil
}
