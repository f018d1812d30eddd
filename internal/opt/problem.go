package opt

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig marks problem or solver settings rejected before any work starts.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrNumeric is returned when the objective produces a non-finite value.
var ErrNumeric = errors.New("numeric failure")

// DepotID is the id used for the depot in caller-facing routes.
const DepotID = 0

type Point struct{ X, Y float64 }

type Customer struct {
	ID     int
	Loc    Point
	Demand int
}

// Instance is a single-depot capacitated VRP.
type Instance struct {
	Depot     Point
	Customers []Customer
	Capacity  int
}

// Validate checks the invariants the decoder and evaluator rely on.
func (in Instance) Validate() error {
	if in.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be > 0 (got %d)", ErrInvalidConfig, in.Capacity)
	}
	if len(in.Customers) == 0 {
		return fmt.Errorf("%w: at least one customer is required", ErrInvalidConfig)
	}
	seen := make(map[int]struct{}, len(in.Customers))
	for _, c := range in.Customers {
		if c.ID == DepotID {
			return fmt.Errorf("%w: customer id %d is reserved for the depot", ErrInvalidConfig, DepotID)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: duplicate customer id %d", ErrInvalidConfig, c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Demand < 0 {
			return fmt.Errorf("%w: customer %d has negative demand %d", ErrInvalidConfig, c.ID, c.Demand)
		}
		if !finite(c.Loc.X) || !finite(c.Loc.Y) {
			return fmt.Errorf("%w: customer %d has a non-finite coordinate", ErrInvalidConfig, c.ID)
		}
	}
	if !finite(in.Depot.X) || !finite(in.Depot.Y) {
		return fmt.Errorf("%w: depot has a non-finite coordinate", ErrInvalidConfig)
	}
	return nil
}

// TotalDemand sums customer demand.
func (in Instance) TotalDemand() int {
	total := 0
	for _, c := range in.Customers {
		total += c.Demand
	}
	return total
}

// dense is the index space the solver works in: 0 is the depot and
// 1..n are customers in input order.
type dense struct {
	coords  []Point
	demands []int
	ids     []int
}

func densify(in Instance) dense {
	n := len(in.Customers)
	d := dense{
		coords:  make([]Point, n+1),
		demands: make([]int, n+1),
		ids:     make([]int, n+1),
	}
	d.coords[0] = in.Depot
	d.ids[0] = DepotID
	for i, c := range in.Customers {
		d.coords[i+1] = c.Loc
		d.demands[i+1] = c.Demand
		d.ids[i+1] = c.ID
	}
	return d
}

// external maps dense routes back to caller ids.
func (d dense) external(routes [][]int) [][]int {
	out := make([][]int, len(routes))
	for i, r := range routes {
		mapped := make([]int, len(r))
		for j, idx := range r {
			mapped[j] = d.ids[idx]
		}
		out[i] = mapped
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
