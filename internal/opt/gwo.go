package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
)

// State is the lifecycle of one GreyWolf run.
type State int32

const (
	StateInitialized State = iota
	StateIterating
	StateConverged
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Objective scores a position; lower is better.
type Objective func(x []float64) float64

// Progress is the advisory best-so-far snapshot sent while iterating.
type Progress struct {
	Iteration   int
	BestFitness float64
}

type TracePoint struct {
	Iteration int     `json:"iteration"`
	Fitness   float64 `json:"fitness"`
}

type Wolf struct {
	Position []float64
	Fitness  float64
}

// Outcome is what a run produced up to the point it stopped.
type Outcome struct {
	Alpha      Wolf
	Trace      []TracePoint
	Iterations int
	State      State
}

// GreyWolf minimises an Objective over the box [Lower, Upper]^Dim.
type GreyWolf struct {
	Objective  Objective
	Dim        int
	Lower      float64
	Upper      float64
	Population int
	MaxIter    int
	Rng        *rand.Rand

	// Progress, when set, receives the iteration-0 snapshot and then one every
	// ProgressEvery iterations. Sends never block; a full channel drops the update.
	Progress      chan<- Progress
	ProgressEvery int

	state   atomic.Int32
	dropped atomic.Int64
}

// NewGreyWolf validates the parameters and returns an optimizer ready to Run.
func NewGreyWolf(obj Objective, dim int, lower, upper float64, population, maxIter int, rng *rand.Rand) (*GreyWolf, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: objective is nil", ErrInvalidConfig)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be > 0 (got %d)", ErrInvalidConfig, dim)
	}
	if !(lower < upper) {
		return nil, fmt.Errorf("%w: lower bound %g must be < upper bound %g", ErrInvalidConfig, lower, upper)
	}
	if population < 3 {
		return nil, fmt.Errorf("%w: population must be >= 3 (got %d)", ErrInvalidConfig, population)
	}
	if maxIter <= 0 {
		return nil, fmt.Errorf("%w: max iterations must be > 0 (got %d)", ErrInvalidConfig, maxIter)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is nil", ErrInvalidConfig)
	}
	return &GreyWolf{
		Objective:     obj,
		Dim:           dim,
		Lower:         lower,
		Upper:         upper,
		Population:    population,
		MaxIter:       maxIter,
		Rng:           rng,
		ProgressEvery: 1,
	}, nil
}

// State is safe to call from any goroutine.
func (g *GreyWolf) State() State { return State(g.state.Load()) }

// Dropped reports how many progress updates were discarded because the channel was full.
func (g *GreyWolf) Dropped() int64 { return g.dropped.Load() }

// Run executes the search. ctx is polled once at the top of every iteration,
// so an iteration that has started always completes. On cancellation the
// partial Outcome is returned together with ctx.Err().
func (g *GreyWolf) Run(ctx context.Context) (Outcome, error) {
	g.state.Store(int32(StateInitialized))
	pop := make([][]float64, g.Population)
	fit := make([]float64, g.Population)
	span := g.Upper - g.Lower
	for i := range pop {
		x := make([]float64, g.Dim)
		for d := range x {
			x[d] = g.Lower + g.Rng.Float64()*span
		}
		pop[i] = x
	}
	if err := g.evaluate(pop, fit); err != nil {
		return Outcome{State: g.State()}, err
	}
	rank(pop, fit)

	alpha := Wolf{Position: clone(pop[0]), Fitness: fit[0]}
	beta := Wolf{Position: clone(pop[1]), Fitness: fit[1]}
	delta := Wolf{Position: clone(pop[2]), Fitness: fit[2]}

	trace := make([]TracePoint, 0, g.MaxIter+1)
	trace = append(trace, TracePoint{Iteration: 0, Fitness: alpha.Fitness})
	g.report(0, alpha.Fitness)

	every := g.ProgressEvery
	if every <= 0 {
		every = 1
	}
	pulls := [3][]float64{make([]float64, g.Dim), make([]float64, g.Dim), make([]float64, g.Dim)}
	r1 := make([]float64, g.Dim)
	r2 := make([]float64, g.Dim)

	g.state.Store(int32(StateIterating))
	done := 0
	for t := 1; t <= g.MaxIter; t++ {
		if err := ctx.Err(); err != nil {
			g.state.Store(int32(StateCancelled))
			return Outcome{Alpha: alpha, Trace: trace, Iterations: done, State: StateCancelled}, err
		}
		a := 2 * (1 - float64(t)/float64(g.MaxIter))
		for i := range pop {
			x := pop[i]
			for j, leader := range [3][]float64{alpha.Position, beta.Position, delta.Position} {
				for d := range r1 {
					r1[d] = g.Rng.Float64()
				}
				for d := range r2 {
					r2[d] = g.Rng.Float64()
				}
				for d := range x {
					A := 2*a*r1[d] - a
					C := 2 * r2[d]
					D := math.Abs(C*leader[d] - x[d])
					pulls[j][d] = leader[d] - A*D
				}
			}
			for d := range x {
				x[d] = clamp((pulls[0][d]+pulls[1][d]+pulls[2][d])/3, g.Lower, g.Upper)
			}
		}
		if err := g.evaluate(pop, fit); err != nil {
			return Outcome{Alpha: alpha, Trace: trace, Iterations: done, State: g.State()}, err
		}
		rank(pop, fit)
		if fit[0] < alpha.Fitness {
			alpha = Wolf{Position: clone(pop[0]), Fitness: fit[0]}
		}
		beta = Wolf{Position: clone(pop[1]), Fitness: fit[1]}
		delta = Wolf{Position: clone(pop[2]), Fitness: fit[2]}

		done = t
		trace = append(trace, TracePoint{Iteration: t, Fitness: alpha.Fitness})
		if t%every == 0 {
			g.report(t, alpha.Fitness)
		}
	}
	g.state.Store(int32(StateConverged))
	return Outcome{Alpha: alpha, Trace: trace, Iterations: done, State: StateConverged}, nil
}

func (g *GreyWolf) evaluate(pop [][]float64, fit []float64) error {
	for i, x := range pop {
		v := g.Objective(x)
		if !finite(v) {
			return fmt.Errorf("%w: objective returned %v for wolf %d", ErrNumeric, v, i)
		}
		fit[i] = v
	}
	return nil
}

func (g *GreyWolf) report(iter int, best float64) {
	if g.Progress == nil {
		return
	}
	select {
	case g.Progress <- Progress{Iteration: iter, BestFitness: best}:
	default:
		g.dropped.Add(1)
	}
}

// rank sorts the population by fitness ascending; ties keep their previous order.
func rank(pop [][]float64, fit []float64) {
	idx := make([]int, len(pop))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return fit[idx[a]] < fit[idx[b]] })
	p2 := make([][]float64, len(pop))
	f2 := make([]float64, len(fit))
	for i, j := range idx {
		p2[i] = pop[j]
		f2[i] = fit[j]
	}
	copy(pop, p2)
	copy(fit, f2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clone(x []float64) []float64 { return append([]float64(nil), x...) }
