package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	MinWolves     = 3
	MaxWolves     = 500
	MinIterations = 1
	MaxIterations = 10000

	DefaultWolves        = 30
	DefaultIterations    = 100
	DefaultPenalty       = 1000.0
	DefaultProgressEvery = 5
)

// Config controls one VRP solve.
type Config struct {
	Wolves     int
	Iterations int
	// Seed makes runs reproducible; nil draws from the clock.
	Seed          *int64
	Penalty       float64
	ProgressEvery int
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	seed := int64(42)
	return Config{
		Wolves:        DefaultWolves,
		Iterations:    DefaultIterations,
		Seed:          &seed,
		Penalty:       DefaultPenalty,
		ProgressEvery: DefaultProgressEvery,
	}
}

func (c Config) Validate() error {
	if c.Wolves < MinWolves || c.Wolves > MaxWolves {
		return fmt.Errorf("%w: wolves must be in [%d, %d] (got %d)", ErrInvalidConfig, MinWolves, MaxWolves, c.Wolves)
	}
	if c.Iterations < MinIterations || c.Iterations > MaxIterations {
		return fmt.Errorf("%w: iterations must be in [%d, %d] (got %d)", ErrInvalidConfig, MinIterations, MaxIterations, c.Iterations)
	}
	if c.Penalty < 0 || math.IsNaN(c.Penalty) || math.IsInf(c.Penalty, 0) {
		return fmt.Errorf("%w: penalty coefficient must be a finite value >= 0 (got %v)", ErrInvalidConfig, c.Penalty)
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("%w: progress interval must be >= 0 (got %d)", ErrInvalidConfig, c.ProgressEvery)
	}
	return nil
}

// Result is a finished solve expressed in caller ids.
type Result struct {
	Routes      [][]int
	BestFitness float64
	Trace       []TracePoint
	Runtime     time.Duration
	Details     []RouteDetail
	Iterations  int
	Dropped     int64
}

// Solve runs GreyWolf over random keys in [0,1]^n for the instance.
// progress may be nil. On cancellation the error is ctx.Err() and the Result is zero.
func Solve(ctx context.Context, in Instance, cfg Config, progress chan<- Progress) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	d := densify(in)
	capacity, penalty := in.Capacity, cfg.Penalty
	obj := func(x []float64) float64 {
		return Fitness(Decode(x, capacity, d.demands), d.coords, d.demands, capacity, penalty)
	}

	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	gw, err := NewGreyWolf(obj, len(in.Customers), 0, 1, cfg.Wolves, cfg.Iterations, rand.New(rand.NewSource(seed)))
	if err != nil {
		return Result{}, err
	}
	gw.Progress = progress
	gw.ProgressEvery = cfg.ProgressEvery

	out, err := gw.Run(ctx)
	if err != nil {
		return Result{}, err
	}

	routes := Decode(out.Alpha.Position, capacity, d.demands)
	details := RouteDetails(routes, d.coords, d.demands)
	for i := range details {
		details[i].Route = d.external([][]int{details[i].Route})[0]
	}
	runtime := time.Since(start)
	return Result{
		Routes:      d.external(routes),
		BestFitness: out.Alpha.Fitness,
		Trace:       out.Trace,
		Runtime:     runtime,
		Details:     details,
		Iterations:  out.Iterations,
		Dropped:     gw.Dropped(),
	}, nil
}
