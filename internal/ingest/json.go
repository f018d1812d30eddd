package ingest

import (
	"encoding/json"
	"fmt"
	"io"

	"wolfroute/internal/model"
)

// jsonParser accepts {depot, customers} directly or wrapped in "vrpData".
// "depots" (first entry is used) and "nodes" are accepted as aliases, x/y
// as aliases of lat/lng and load of demand. Nodes with zero demand are skipped.
type jsonParser struct{}

func (jsonParser) Format() model.DatasetFormat { return model.FormatJSON }

type jsonPoint struct {
	ID     *int     `json:"id"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Demand *float64 `json:"demand"`
	Load   *float64 `json:"load"`
	// CVRPLIB style exports put the capacity beside the nodes.
	Capacity int `json:"capacity"`
}

func (p jsonPoint) coords() (float64, float64) {
	return pick(p.Lat, p.X), pick(p.Lng, p.Y)
}

func pick(a, b *float64) float64 {
	switch {
	case a != nil:
		return *a
	case b != nil:
		return *b
	}
	return 0
}

type jsonDoc struct {
	VRPData   *jsonDoc    `json:"vrpData"`
	Depot     *jsonPoint  `json:"depot"`
	Depots    []jsonPoint `json:"depots"`
	Customers []jsonPoint `json:"customers"`
	Nodes     []jsonPoint `json:"nodes"`
	Capacity  int         `json:"capacity"`
}

func (jsonParser) Parse(r io.Reader) (Parsed, error) {
	var doc jsonDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Parsed{}, fmt.Errorf("decode json: %w", err)
	}
	if doc.VRPData != nil {
		capacity := doc.Capacity
		doc = *doc.VRPData
		if doc.Capacity == 0 {
			doc.Capacity = capacity
		}
	}
	var out model.VRPData
	switch {
	case doc.Depot != nil:
		out.Depot.Lat, out.Depot.Lng = doc.Depot.coords()
	case len(doc.Depots) > 0:
		out.Depot.Lat, out.Depot.Lng = doc.Depots[0].coords()
	}
	nodes := doc.Customers
	if nodes == nil {
		nodes = doc.Nodes
	}
	for _, n := range nodes {
		demand := pick(n.Demand, n.Load)
		if demand <= 0 {
			continue
		}
		id := len(out.Customers) + 1
		if n.ID != nil {
			id = *n.ID
		}
		lat, lng := n.coords()
		out.Customers = append(out.Customers, model.Customer{ID: id, Lat: lat, Lng: lng, Demand: int(demand)})
	}
	return Parsed{Data: out, Capacity: doc.Capacity}, nil
}
