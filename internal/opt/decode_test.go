package opt

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitOrderStableOnTies(t *testing.T) {
	got := VisitOrder([]float64{0.5, 0.1, 0.5, 0.1})
	if diff := cmp.Diff([]int{1, 3, 0, 2}, got); diff != "" {
		t.Fatalf("visit order mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFirstFit(t *testing.T) {
	demands := []int{0, 4, 4, 4, 2}
	keys := []float64{0.1, 0.2, 0.3, 0.4}

	routes := Decode(keys, 10, demands)

	want := [][]int{{0, 1, 2, 0}, {0, 3, 4, 0}}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Fatalf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeOversizedCustomerGetsOwnRoute(t *testing.T) {
	demands := []int{0, 15, 3, 3}
	cases := map[string]struct {
		keys []float64
		want [][]int
	}{
		"oversized first":  {keys: []float64{0.1, 0.2, 0.3}, want: [][]int{{0, 1, 0}, {0, 2, 3, 0}}},
		"oversized middle": {keys: []float64{0.2, 0.1, 0.3}, want: [][]int{{0, 2, 0}, {0, 1, 0}, {0, 3, 0}}},
		"oversized last":   {keys: []float64{0.9, 0.1, 0.2}, want: [][]int{{0, 2, 3, 0}, {0, 1, 0}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Decode(tc.keys, 10, demands)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("routes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeCoversEveryCustomerOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(40)
		demands := make([]int, n+1)
		keys := make([]float64, n)
		for i := 1; i <= n; i++ {
			demands[i] = rng.Intn(30)
			keys[i-1] = rng.Float64()
		}
		capacity := 1 + rng.Intn(50)

		routes := Decode(keys, capacity, demands)

		seen := make(map[int]int)
		for _, r := range routes {
			require.GreaterOrEqual(t, len(r), 3, "route must hold at least one customer: %v", r)
			assert.Equal(t, 0, r[0])
			assert.Equal(t, 0, r[len(r)-1])
			for _, idx := range r[1 : len(r)-1] {
				seen[idx]++
			}
			if RouteLoad(r, demands) > capacity {
				assert.Len(t, r, 3, "only a lone oversized customer may overload a route")
			}
		}
		require.Len(t, seen, n)
		for idx, count := range seen {
			assert.Equal(t, 1, count, "customer %d visited %d times", idx, count)
		}
	}
}
