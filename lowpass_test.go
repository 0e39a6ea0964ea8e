package wavedaq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseBesselCoefficients(t *testing.T) {
	// θ_3(s) = s^3 + 6s^2 + 15s + 15
	assert.Equal(t, []float64{15, 15, 6, 1}, reverseBesselCoefficients(3))
	// θ_6(s) ends in 10395
	assert.Equal(t, 10395.0, reverseBesselCoefficients(6)[0])
}

func TestBesselPoles(t *testing.T) {
	for order := 1; order <= 8; order++ {
		poles, err := besselPoles(order)
		require.NoError(t, err)
		require.Len(t, poles, order)
		prod := complex(1, 0)
		for _, p := range poles {
			if real(p) >= 0 {
				t.Errorf("order %d: pole %v is not in the left half plane", order, p)
			}
			prod *= -p
		}
		assert.InDelta(t, 1.0, real(prod), 1e-9, "order %d: poles should be normalized", order)
	}
}

func TestBesselLowPassDesign(t *testing.T) {
	lp, err := NewBesselLowPass(FilterOrder, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, FilterOrder, lp.Order())
	assert.Len(t, lp.sections, 3)
	assert.InDelta(t, 1.0, lp.DCGain(), 1e-9)
	for _, s := range lp.sections {
		// Stable: both poles of each section inside the unit circle.
		assert.Less(t, math.Abs(s.a[2]), 1.0)
	}

	for _, cutoff := range []float64{0, -5, 500, 800} {
		_, err := NewBesselLowPass(FilterOrder, cutoff, 1000)
		assert.ErrorIs(t, err, ErrInvalidChannel, "cutoff %v", cutoff)
	}
	_, err = NewBesselLowPass(0, 100, 1000)
	assert.Error(t, err)
}

func TestFiltFiltConstant(t *testing.T) {
	lp, err := NewBesselLowPass(FilterOrder, 50, 1000)
	require.NoError(t, err)
	x := make([]float64, 200)
	for i := range x {
		x[i] = 3.25
	}
	y, err := lp.FiltFilt(x)
	require.NoError(t, err)
	require.Len(t, y, len(x))
	assert.InDeltaSlice(t, x, y, 1e-9)

	empty, err := lp.FiltFilt(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFilterCycleSmooths(t *testing.T) {
	// A square wave loses its sharp edges but keeps its length and mean.
	cycle := make([]float64, 100)
	for i := 50; i < 100; i++ {
		cycle[i] = 1
	}
	y, err := FilterCycle(cycle, 200, 10000)
	require.NoError(t, err)
	require.Len(t, y, len(cycle))
	var sum float64
	for _, v := range y {
		sum += v
	}
	assert.InDelta(t, 0.5, sum/float64(len(y)), 5e-3)
	assert.Greater(t, y[50], 0.0)
	assert.Less(t, y[50], 1.0)
	assert.InDelta(t, 0.5, y[50], 0.1)
}

func TestOddExtend(t *testing.T) {
	ext := oddExtend([]float64{1, 2, 4, 7}, 2)
	assert.Equal(t, []float64{-2, 0, 1, 2, 4, 7, 10, 12}, ext)
	assert.Equal(t, []float64{1, 2}, oddExtend([]float64{1, 2}, 0))
}
