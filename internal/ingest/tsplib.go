package ingest

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"wolfroute/internal/model"
)

// tsplibParser reads TSPLIB/CVRPLIB: DIMENSION, CAPACITY, NODE_COORD_SECTION,
// DEMAND_SECTION and DEPOT_SECTION (node 1 when absent). Zero-demand nodes
// that are not the depot are dropped.
type tsplibParser struct{}

func (tsplibParser) Format() model.DatasetFormat { return model.FormatTSPLIB }

func (tsplibParser) Parse(r io.Reader) (Parsed, error) {
	type xy struct{ x, y float64 }
	coords := map[int]xy{}
	demands := map[int]int{}
	depots := map[int]bool{}
	capacity, dimension := 0, 0
	section := ""

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if key, val, ok := strings.Cut(line, ":"); ok && isHeaderKey(key) {
			key = strings.TrimSpace(key)
			val = strings.TrimSpace(val)
			switch key {
			case "DIMENSION":
				dimension, _ = strconv.Atoi(val)
			case "CAPACITY":
				n, err := strconv.Atoi(val)
				if err != nil {
					return Parsed{}, fmt.Errorf("CAPACITY: %w", err)
				}
				capacity = n
			}
			continue
		}
		switch line {
		case "NODE_COORD_SECTION":
			section = "coords"
			continue
		case "DEMAND_SECTION":
			section = "demand"
			continue
		case "DEPOT_SECTION":
			section = "depot"
			continue
		case "EOF":
			section = "eof"
		}
		if section == "eof" {
			break
		}
		parts := strings.Fields(line)
		switch section {
		case "coords":
			if len(parts) < 3 {
				continue
			}
			idx, err := strconv.Atoi(parts[0])
			if err != nil {
				return Parsed{}, fmt.Errorf("node %q: %w", parts[0], err)
			}
			x, err1 := strconv.ParseFloat(parts[1], 64)
			y, err2 := strconv.ParseFloat(parts[2], 64)
			if err1 != nil || err2 != nil {
				return Parsed{}, fmt.Errorf("node %d: bad coordinates", idx)
			}
			coords[idx] = xy{x, y}
		case "demand":
			if len(parts) < 2 {
				continue
			}
			idx, err1 := strconv.Atoi(parts[0])
			d, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return Parsed{}, fmt.Errorf("demand line %q is malformed", line)
			}
			demands[idx] = d
		case "depot":
			if idx, err := strconv.Atoi(line); err == nil && idx > 0 {
				depots[idx] = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Parsed{}, err
	}
	if len(coords) == 0 {
		return Parsed{}, fmt.Errorf("no NODE_COORD_SECTION entries")
	}
	if dimension > 0 && len(coords) != dimension {
		return Parsed{}, fmt.Errorf("DIMENSION is %d but %d nodes were listed", dimension, len(coords))
	}
	if len(depots) == 0 {
		depots[1] = true
	}

	ids := make([]int, 0, len(coords))
	for id := range coords {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var out model.VRPData
	depotSet := false
	for _, id := range ids {
		c := coords[id]
		d := demands[id]
		if depots[id] || d == 0 {
			if !depotSet && depots[id] {
				out.Depot = model.Coordinate{Lat: c.x, Lng: c.y}
				depotSet = true
			}
			continue
		}
		out.Customers = append(out.Customers, model.Customer{ID: id, Lat: c.x, Lng: c.y, Demand: d})
	}
	return Parsed{Data: out, Capacity: capacity}, nil
}

func isHeaderKey(key string) bool {
	switch strings.TrimSpace(key) {
	case "NAME", "COMMENT", "TYPE", "DIMENSION", "CAPACITY", "EDGE_WEIGHT_TYPE":
		return true
	}
	return false
}

// plainParser reads whitespace separated "id x y demand" (or "x y demand")
// lines. '#' starts a comment. The first line is the depot; ids are line
// positions.
type plainParser struct{}

func (plainParser) Format() model.DatasetFormat { return model.FormatVRP }

func (plainParser) Parse(r io.Reader) (Parsed, error) {
	type node struct {
		x, y float64
		d    int
	}
	var nodes []node
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) > 3 {
			parts = parts[1:4]
		}
		if len(parts) < 3 {
			continue
		}
		x, err1 := strconv.ParseFloat(parts[0], 64)
		y, err2 := strconv.ParseFloat(parts[1], 64)
		d, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return Parsed{}, fmt.Errorf("line %q is malformed", line)
		}
		nodes = append(nodes, node{x, y, int(d)})
	}
	if err := sc.Err(); err != nil {
		return Parsed{}, err
	}
	if len(nodes) == 0 {
		return Parsed{}, fmt.Errorf("no valid coordinates found")
	}
	out := model.VRPData{Depot: model.Coordinate{Lat: nodes[0].x, Lng: nodes[0].y}}
	for i, n := range nodes[1:] {
		if n.d > 0 {
			out.Customers = append(out.Customers, model.Customer{ID: i + 1, Lat: n.x, Lng: n.y, Demand: n.d})
		}
	}
	return Parsed{Data: out}, nil
}
