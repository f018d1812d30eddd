package opt

import "math"

func euclid(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }

// RouteDistance is the sum of leg lengths along a dense route.
func RouteDistance(route []int, coords []Point) float64 {
	dist := 0.0
	for i := 0; i+1 < len(route); i++ {
		dist += euclid(coords[route[i]], coords[route[i+1]])
	}
	return dist
}

// RouteLoad sums customer demand on a dense route; depot stops count as zero.
func RouteLoad(route []int, demands []int) int {
	load := 0
	for _, idx := range route {
		if idx != 0 {
			load += demands[idx]
		}
	}
	return load
}

// Fitness is total distance plus penalty*(load-capacity) for every overloaded route.
// Lower is better.
func Fitness(routes [][]int, coords []Point, demands []int, capacity int, penalty float64) float64 {
	total := 0.0
	for _, r := range routes {
		total += RouteDistance(r, coords)
		if over := RouteLoad(r, demands) - capacity; over > 0 {
			total += penalty * float64(over)
		}
	}
	return total
}

type RouteDetail struct {
	Route    []int
	Distance float64
	Load     int
}

// RouteDetails reports distance (rounded to 2 dp) and load per route.
// Routes are returned as given; callers map them to external ids.
func RouteDetails(routes [][]int, coords []Point, demands []int) []RouteDetail {
	out := make([]RouteDetail, 0, len(routes))
	for _, r := range routes {
		out = append(out, RouteDetail{
			Route:    r,
			Distance: math.Round(RouteDistance(r, coords)*100) / 100,
			Load:     RouteLoad(r, demands),
		})
	}
	return out
}
