package opt

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// GenParams describes a synthetic instance around a centre point.
// Customer ids are 1..Customers.
type GenParams struct {
	Customers  int
	Center     Point
	Spread     float64
	DemandLow  int
	DemandHigh int
	Capacity   int
	Seed       *int64

	// Clusters > 0 groups customers around that many random centres,
	// each ClusterSpread wide, placed within Spread of the depot.
	Clusters      int
	ClusterSpread float64
}

// DefaultGenParams matches the sample instances shipped with the service.
func DefaultGenParams() GenParams {
	return GenParams{
		Customers:  20,
		Center:     Point{X: 37.7749, Y: -122.4194},
		Spread:     0.1,
		DemandLow:  1,
		DemandHigh: 10,
		Capacity:   100,
	}
}

func (p GenParams) Validate() error {
	if p.Customers < 1 {
		return fmt.Errorf("%w: customers must be >= 1 (got %d)", ErrInvalidConfig, p.Customers)
	}
	if p.DemandLow < 0 || p.DemandHigh < p.DemandLow {
		return fmt.Errorf("%w: demand range [%d, %d] is invalid", ErrInvalidConfig, p.DemandLow, p.DemandHigh)
	}
	if p.Spread < 0 || p.ClusterSpread < 0 {
		return fmt.Errorf("%w: spread must be >= 0", ErrInvalidConfig)
	}
	if p.Clusters < 0 {
		return fmt.Errorf("%w: clusters must be >= 0 (got %d)", ErrInvalidConfig, p.Clusters)
	}
	return nil
}

// Generate builds a random instance. The same seed yields the same instance.
func Generate(p GenParams) (Instance, error) {
	if err := p.Validate(); err != nil {
		return Instance{}, err
	}
	seed := time.Now().UnixNano()
	if p.Seed != nil {
		seed = *p.Seed
	}
	rng := rand.New(rand.NewSource(seed))
	capacity := p.Capacity
	if capacity <= 0 {
		capacity = 100
	}
	in := Instance{Depot: p.Center, Capacity: capacity, Customers: make([]Customer, 0, p.Customers)}
	jitter := func(c Point, spread float64) Point {
		return Point{
			X: round6(c.X + (rng.Float64()-0.5)*2*spread),
			Y: round6(c.Y + (rng.Float64()-0.5)*2*spread),
		}
	}
	demand := func() int { return p.DemandLow + rng.Intn(p.DemandHigh-p.DemandLow+1) }

	if p.Clusters == 0 {
		for i := 1; i <= p.Customers; i++ {
			loc := jitter(p.Center, p.Spread)
			in.Customers = append(in.Customers, Customer{ID: i, Loc: loc, Demand: demand()})
		}
		return in, nil
	}

	centres := make([]Point, p.Clusters)
	for i := range centres {
		centres[i] = Point{
			X: p.Center.X + (rng.Float64()-0.5)*2*p.Spread,
			Y: p.Center.Y + (rng.Float64()-0.5)*2*p.Spread,
		}
	}
	per, extra := p.Customers/p.Clusters, p.Customers%p.Clusters
	id := 1
	for i, c := range centres {
		n := per
		if i < extra {
			n++
		}
		for k := 0; k < n; k++ {
			in.Customers = append(in.Customers, Customer{ID: id, Loc: jitter(c, p.ClusterSpread), Demand: demand()})
			id++
		}
	}
	return in, nil
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
