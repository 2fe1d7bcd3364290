package growth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/shrubmanage/internal/constants"
)

func powerLaw(n int, a, k float64) (steps, densities []float64) {
	for t := 1; t <= n; t++ {
		steps = append(steps, float64(t))
		densities = append(densities, a*math.Pow(float64(t), k))
	}
	return steps, densities
}

func TestFitPowerLaw(t *testing.T) {
	tests := []struct {
		name     string
		exponent float64
		want     Outcome
	}{
		{"expanding", 0.5, Uncontrolled},
		{"declining", -0.8, Controlled},
		{"flat", 0, Controlled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, densities := powerLaw(20, 0.01, tt.exponent)
			fit, err := FitPowerLaw(steps, densities)
			require.NoError(t, err)

			assert.False(t, fit.Guarded)
			assert.InDelta(t, tt.exponent, fit.Slope, 1e-9)
			assert.InDelta(t, math.Log(0.01), fit.Intercept, 1e-9)
			if tt.exponent != 0 {
				assert.Equal(t, tt.want, fit.Outcome())
			}
		})
	}
}

func TestFitPowerLaw_GuardsZeroDensity(t *testing.T) {
	fit, err := FitPowerLaw([]float64{1, 2, 3}, []float64{0.1, 0, 0.2})
	require.NoError(t, err)
	assert.True(t, fit.Guarded)
	assert.Equal(t, constants.GuardedSlope, fit.Slope)
	assert.Equal(t, Controlled, fit.Outcome())
}

func TestFitPowerLaw_ShortSeries(t *testing.T) {
	fit, err := FitPowerLaw([]float64{1}, []float64{0.3})
	require.NoError(t, err)
	assert.True(t, fit.Guarded)

	fit, err = FitPowerLaw([]float64{2, 2}, []float64{0.3, 0.4})
	require.NoError(t, err)
	assert.True(t, fit.Guarded)
}

func TestFitPowerLaw_LengthMismatch(t *testing.T) {
	_, err := FitPowerLaw([]float64{1, 2}, []float64{0.1})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Uncontrolled, Classify(0.001))
	assert.Equal(t, Controlled, Classify(0))
	assert.Equal(t, Controlled, Classify(-1))
}

func TestOutcome_StringRoundTrip(t *testing.T) {
	for _, o := range []Outcome{Controlled, Uncontrolled} {
		got, err := ParseOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
	_, err := ParseOutcome("maybe")
	assert.Error(t, err)
}

func TestMeanGrowth(t *testing.T) {
	assert.InDelta(t, 0.2, MeanGrowth([]float64{0.1, math.NaN(), 0.3}), 1e-12)
	assert.True(t, math.IsNaN(MeanGrowth([]float64{math.NaN()})))
	assert.True(t, math.IsNaN(MeanGrowth(nil)))
}

func TestIntrinsicGrowth(t *testing.T) {
	assert.InDelta(t, math.Log(2), IntrinsicGrowth(10, 20), 1e-12)
	assert.InDelta(t, 0, IntrinsicGrowth(7, 7), 1e-12)
	assert.True(t, math.IsNaN(IntrinsicGrowth(0, 5)))
	assert.True(t, math.IsNaN(IntrinsicGrowth(5, 0)))
}
