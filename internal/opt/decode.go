package opt

import "sort"

// VisitOrder returns customer positions (0-based) sorted by key ascending.
// Equal keys keep their original relative order.
func VisitOrder(keys []float64) []int {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	return order
}

// Decode turns a random-key vector into routes over dense indices.
//
// demands is indexed densely: demands[0] is the depot (always 0) and
// demands[i+1] belongs to keys[i]. Customers are packed first-fit in visiting
// order; when the next customer does not fit, the current route is closed at
// the depot and a new one starts with that customer. A customer whose demand
// alone exceeds capacity still gets a route of its own.
func Decode(keys []float64, capacity int, demands []int) [][]int {
	var routes [][]int
	route := []int{0}
	load := 0
	for _, pos := range VisitOrder(keys) {
		cust := pos + 1
		d := demands[cust]
		if load+d <= capacity || len(route) == 1 {
			route = append(route, cust)
			load += d
			continue
		}
		routes = append(routes, append(route, 0))
		route = []int{0, cust}
		load = d
	}
	return append(routes, append(route, 0))
}
