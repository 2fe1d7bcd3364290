// Package growth fits power-law growth curves to shrub density series and
// classifies the outcome of a run.
package growth

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/shrubmanage/internal/constants"
)

// Outcome classifies a run by the sign of its growth slope.
type Outcome int

const (
	// Controlled means shrub cover is not expanding (slope <= 0).
	Controlled Outcome = 0
	// Uncontrolled means shrub cover keeps expanding (slope > 0).
	Uncontrolled Outcome = 1
)

// String returns the lower-case outcome name.
func (o Outcome) String() string {
	switch o {
	case Controlled:
		return "controlled"
	case Uncontrolled:
		return "uncontrolled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "controlled":
		return Controlled, nil
	case "uncontrolled":
		return Uncontrolled, nil
	default:
		return Controlled, fmt.Errorf("unknown outcome: %q", s)
	}
}

// Fit is a least-squares line through (ln t, ln density).
type Fit struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`

	// Guarded is true when the series could not be log-fitted and Slope was
	// set to constants.GuardedSlope.
	Guarded bool `json:"guarded"`
}

// Outcome classifies the fit.
func (f Fit) Outcome() Outcome {
	return Classify(f.Slope)
}

// FitPowerLaw regresses ln(density) on ln(step). Any non-positive density or
// step, or fewer than two points, yields a guarded fit.
func FitPowerLaw(steps, densities []float64) (Fit, error) {
	if len(steps) != len(densities) {
		return Fit{}, fmt.Errorf("steps and densities differ in length: %d != %d", len(steps), len(densities))
	}
	if len(steps) < 2 {
		return guarded(), nil
	}

	x := make([]float64, len(steps))
	y := make([]float64, len(densities))
	for i := range steps {
		if steps[i] <= 0 || !(densities[i] > 0) {
			return guarded(), nil
		}
		x[i] = math.Log(steps[i])
		y[i] = math.Log(densities[i])
	}

	// A single distinct step leaves the slope undefined.
	if floats.Max(x) == floats.Min(x) {
		return guarded(), nil
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return Fit{Slope: beta, Intercept: alpha}, nil
}

func guarded() Fit {
	return Fit{Slope: constants.GuardedSlope, Guarded: true}
}

// Classify maps a slope to an outcome. A slope of exactly zero counts as
// controlled.
func Classify(slope float64) Outcome {
	if slope > 0 {
		return Uncontrolled
	}
	return Controlled
}

// MeanGrowth returns the mean of the finite values, or NaN if there are none.
func MeanGrowth(values []float64) float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return math.NaN()
	}
	return stat.Mean(finite, nil)
}

// IntrinsicGrowth is ln(post/pre), NaN when either count is zero.
func IntrinsicGrowth(pre, post int) float64 {
	if pre <= 0 || post <= 0 {
		return math.NaN()
	}
	return math.Log(float64(post) / float64(pre))
}
