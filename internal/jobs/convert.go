package jobs

import (
	"fmt"
	"math"

	"wolfroute/internal/model"
	"wolfroute/internal/opt"
)

// DefaultConfig is the request template; fields absent from a JSON body keep these values.
func DefaultConfig() model.OptimizationConfig {
	seed := int64(42)
	return model.OptimizationConfig{
		NumWolves:          opt.DefaultWolves,
		NumIterations:      opt.DefaultIterations,
		RandomSeed:         &seed,
		VehicleCapacity:    100,
		PenaltyCoefficient: opt.DefaultPenalty,
		ProgressInterval:   opt.DefaultProgressEvery,
	}
}

// SolverConfig validates an API config and converts it for opt.Solve.
func SolverConfig(m model.OptimizationConfig) (opt.Config, error) {
	if m.VehicleCapacity <= 0 {
		return opt.Config{}, fmt.Errorf("%w: vehicle capacity must be > 0 (got %d)", opt.ErrInvalidConfig, m.VehicleCapacity)
	}
	cfg := opt.Config{
		Wolves:        m.NumWolves,
		Iterations:    m.NumIterations,
		Seed:          m.RandomSeed,
		Penalty:       m.PenaltyCoefficient,
		ProgressEvery: m.ProgressInterval,
	}
	if err := cfg.Validate(); err != nil {
		return opt.Config{}, err
	}
	return cfg, nil
}

// Instance builds a validated problem instance. Latitude maps to X and longitude to Y.
func Instance(d model.VRPData, capacity int) (opt.Instance, error) {
	in := opt.Instance{
		Depot:     opt.Point{X: d.Depot.Lat, Y: d.Depot.Lng},
		Customers: make([]opt.Customer, len(d.Customers)),
		Capacity:  capacity,
	}
	for i, c := range d.Customers {
		in.Customers[i] = opt.Customer{ID: c.ID, Loc: opt.Point{X: c.Lat, Y: c.Lng}, Demand: c.Demand}
	}
	if err := in.Validate(); err != nil {
		return opt.Instance{}, err
	}
	return in, nil
}

// Result converts a finished solve into the persisted result record.
// Runtime is kept to millisecond precision.
func Result(jobID string, r opt.Result) model.JobResult {
	out := model.JobResult{
		JobID:              jobID,
		Routes:             r.Routes,
		BestFitness:        r.BestFitness,
		ConvergenceHistory: make([]model.TracePoint, len(r.Trace)),
		Runtime:            math.Round(r.Runtime.Seconds()*1000) / 1000,
		RouteDetails:       make([]model.RouteInfo, len(r.Details)),
	}
	for i, p := range r.Trace {
		out.ConvergenceHistory[i] = model.TracePoint{Iteration: p.Iteration, Fitness: p.Fitness}
	}
	for i, d := range r.Details {
		out.RouteDetails[i] = model.RouteInfo{Route: d.Route, Distance: d.Distance, Load: d.Load}
	}
	return out
}

// VRPData is the inverse of Instance, used to store generated instances.
func VRPData(in opt.Instance) model.VRPData {
	out := model.VRPData{
		Depot:     model.Coordinate{Lat: in.Depot.X, Lng: in.Depot.Y},
		Customers: make([]model.Customer, len(in.Customers)),
	}
	for i, c := range in.Customers {
		out.Customers[i] = model.Customer{ID: c.ID, Lat: c.Loc.X, Lng: c.Loc.Y, Demand: c.Demand}
	}
	return out
}

// Bounds is the accepted range of an integer setting.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ConfigBounds lists the limits SolverConfig enforces.
func ConfigBounds() map[string]Bounds {
	return map[string]Bounds{
		"numWolves":     {Min: opt.MinWolves, Max: opt.MaxWolves},
		"numIterations": {Min: opt.MinIterations, Max: opt.MaxIterations},
	}
}
