package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReproducible(t *testing.T) {
	p := DefaultGenParams()
	p.Seed = seedPtr(5)

	a, err := Generate(p)
	require.NoError(t, err)
	b, err := Generate(p)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a.Customers, 20)
	require.NoError(t, a.Validate())
	for i, c := range a.Customers {
		assert.Equal(t, i+1, c.ID)
		assert.GreaterOrEqual(t, c.Demand, p.DemandLow)
		assert.LessOrEqual(t, c.Demand, p.DemandHigh)
		assert.InDelta(t, p.Center.X, c.Loc.X, p.Spread+1e-6)
	}
}

func TestGenerateClustered(t *testing.T) {
	p := DefaultGenParams()
	p.Customers = 10
	p.Clusters = 3
	p.ClusterSpread = 0.01
	p.Seed = seedPtr(8)

	in, err := Generate(p)
	require.NoError(t, err)

	assert.Len(t, in.Customers, 10)
	assert.Equal(t, 10, in.Customers[9].ID)
}

func TestGenerateRejectsBadRange(t *testing.T) {
	p := DefaultGenParams()
	p.DemandLow, p.DemandHigh = 5, 1
	_, err := Generate(p)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
