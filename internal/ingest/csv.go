package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"wolfroute/internal/model"
)

// csvParser reads rows of id, x/lat, y/lng, demand. Headers are optional and
// recognised by name. The first zero-demand row is the depot; without one
// the first row is used.
type csvParser struct{}

func (csvParser) Format() model.DatasetFormat { return model.FormatCSV }

var csvAliases = map[string][]string{
	"id":     {"id", "idx", "index"},
	"lat":    {"lat", "x", "latitude"},
	"lng":    {"lng", "y", "longitude", "lon"},
	"demand": {"demand", "load"},
}

func (csvParser) Parse(r io.Reader) (Parsed, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return Parsed{}, err
	}
	if len(rows) == 0 {
		return Parsed{}, fmt.Errorf("empty csv")
	}
	cols := map[string]int{"id": 0, "lat": 1, "lng": 2, "demand": 3}
	if _, err := strconv.ParseFloat(strings.TrimSpace(rows[0][0]), 64); err != nil {
		cols = headerColumns(rows[0])
		rows = rows[1:]
	}
	if _, ok := cols["lat"]; !ok {
		return Parsed{}, fmt.Errorf("csv header has no x/lat column")
	}
	if _, ok := cols["lng"]; !ok {
		return Parsed{}, fmt.Errorf("csv header has no y/lng column")
	}

	var out model.VRPData
	depotSeen := false
	for i, row := range rows {
		line := i + 2
		field := func(name string) (string, bool) {
			c, ok := cols[name]
			if !ok || c >= len(row) {
				return "", false
			}
			return strings.TrimSpace(row[c]), true
		}
		lat, err := floatField(field, "lat")
		if err != nil {
			return Parsed{}, fmt.Errorf("row %d: %w", line, err)
		}
		lng, err := floatField(field, "lng")
		if err != nil {
			return Parsed{}, fmt.Errorf("row %d: %w", line, err)
		}
		demand := 0
		if v, ok := field("demand"); ok && v != "" {
			d, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Parsed{}, fmt.Errorf("row %d: demand: %w", line, err)
			}
			demand = int(d)
		}
		if demand == 0 && !depotSeen {
			out.Depot = model.Coordinate{Lat: lat, Lng: lng}
			depotSeen = true
			continue
		}
		id := len(out.Customers) + 1
		if v, ok := field("id"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				id = n
			}
		}
		out.Customers = append(out.Customers, model.Customer{ID: id, Lat: lat, Lng: lng, Demand: demand})
	}
	if !depotSeen && len(out.Customers) > 0 {
		first := out.Customers[0]
		out.Depot = model.Coordinate{Lat: first.Lat, Lng: first.Lng}
		out.Customers = out.Customers[1:]
	}
	return Parsed{Data: out}, nil
}

func headerColumns(header []string) map[string]int {
	cols := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for key, names := range csvAliases {
			if _, done := cols[key]; done {
				continue
			}
			for _, n := range names {
				if h == n {
					cols[key] = i
				}
			}
		}
	}
	return cols
}

func floatField(field func(string) (string, bool), name string) (float64, error) {
	v, ok := field(name)
	if !ok || v == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}
