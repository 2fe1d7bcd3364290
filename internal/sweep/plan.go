// Package sweep runs the automaton over a grid of management regimes and
// turns the fitted growth slopes into a classified outcome surface.
package sweep

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/shrubmanage/internal/constants"
	"github.com/nvandessel/shrubmanage/internal/model"
)

// ErrEmptyAxis is returned when a range or axis yields no values.
var ErrEmptyAxis = errors.New("sweep axis has no values")

// Param names a management setting that an axis varies.
type Param string

const (
	ParamGrazing  Param = "grazing"
	ParamPeriod   Param = "period"
	ParamFraction Param = "fraction"
)

// Valid returns true if the param is a recognized value.
func (p Param) Valid() bool {
	switch p {
	case ParamGrazing, ParamPeriod, ParamFraction:
		return true
	}
	return false
}

// Label returns the axis label used in reports and plots.
func (p Param) Label() string {
	switch p {
	case ParamGrazing:
		return "grazing pressure (fraction)"
	case ParamPeriod:
		return "removal period (years)"
	case ParamFraction:
		return "fraction removed"
	default:
		return string(p)
	}
}

// Apply writes v into the matching field of m. Periods are rounded to the
// nearest whole year.
func (p Param) Apply(m *model.Management, v float64) {
	switch p {
	case ParamGrazing:
		m.Grazing = v
	case ParamPeriod:
		m.RemovalPeriod = int(math.Round(v))
	case ParamFraction:
		m.RemovalFraction = v
	}
}

// FormatValue renders an axis value for display.
func (p Param) FormatValue(v float64) string {
	if p == ParamPeriod {
		return fmt.Sprintf("%d", int(math.Round(v)))
	}
	return fmt.Sprintf("%.2f", v)
}

// Range is an inclusive arithmetic sequence Start, Start+Step, ... <= Stop.
type Range struct {
	Start float64 `json:"start" yaml:"start"`
	Stop  float64 `json:"stop" yaml:"stop"`
	Step  float64 `json:"step" yaml:"step"`
}

// Values expands the range. Stop is included when it lies on the sequence
// within constants.RangeTolerance.
func (r Range) Values() ([]float64, error) {
	if r.Step <= 0 {
		return nil, fmt.Errorf("%w: step must be positive, got %g", ErrEmptyAxis, r.Step)
	}
	if r.Stop < r.Start {
		return nil, fmt.Errorf("%w: stop %g is below start %g", ErrEmptyAxis, r.Stop, r.Start)
	}

	n := int(math.Floor((r.Stop-r.Start)/r.Step+constants.RangeTolerance)) + 1
	values := make([]float64, n)
	for i := range values {
		v := r.Start + float64(i)*r.Step
		values[i] = math.Round(v*1e9) / 1e9
	}
	return values, nil
}

// Axis is one dimension of a sweep.
type Axis struct {
	Param  Param     `json:"param"`
	Values []float64 `json:"values"`
}

// NewAxis expands r into an axis over p.
func NewAxis(p Param, r Range) (Axis, error) {
	if !p.Valid() {
		return Axis{}, fmt.Errorf("invalid sweep parameter: %s (valid: grazing, period, fraction)", p)
	}
	values, err := r.Values()
	if err != nil {
		return Axis{}, fmt.Errorf("axis %s: %w", p, err)
	}
	return Axis{Param: p, Values: values}, nil
}

// FixedAxis is a single-valued axis, used for one-dimensional sweeps.
func FixedAxis(p Param, v float64) Axis {
	return Axis{Param: p, Values: []float64{v}}
}

// mustAxis is for presets whose ranges are known to be valid.
func mustAxis(p Param, r Range) Axis {
	a, err := NewAxis(p, r)
	if err != nil {
		panic(err)
	}
	return a
}

// Plan is a complete sweep definition.
type Plan struct {
	Name  string           `json:"name"`
	Rows  Axis             `json:"rows"`
	Cols  Axis             `json:"cols"`
	Base  model.Management `json:"base"`
	Steps int              `json:"steps"`
	Seed  uint64           `json:"seed"`
}

// Validate checks that the plan can be run.
func (p Plan) Validate() error {
	if p.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", p.Steps)
	}
	for _, a := range []Axis{p.Rows, p.Cols} {
		if !a.Param.Valid() {
			return fmt.Errorf("invalid sweep parameter: %q", a.Param)
		}
		if len(a.Values) == 0 {
			return fmt.Errorf("axis %s: %w", a.Param, ErrEmptyAxis)
		}
	}
	if p.Rows.Param == p.Cols.Param {
		return fmt.Errorf("rows and cols both vary %s", p.Rows.Param)
	}
	rows, cols := p.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if err := p.Management(r, c).Validate(); err != nil {
				return fmt.Errorf("cell (%d,%d): %w", r, c, err)
			}
		}
	}
	return nil
}

// Dims returns the surface shape.
func (p Plan) Dims() (rows, cols int) {
	return len(p.Rows.Values), len(p.Cols.Values)
}

// Management returns the regime of cell (row, col).
func (p Plan) Management(row, col int) model.Management {
	m := p.Base
	p.Rows.Param.Apply(&m, p.Rows.Values[row])
	p.Cols.Param.Apply(&m, p.Cols.Values[col])
	if m.Timing == "" {
		m.Timing = constants.TimingAfter
	}
	return m
}

// CellIndex is the row-major index used to derive the cell's random stream.
func (p Plan) CellIndex(row, col int) int {
	return row*len(p.Cols.Values) + col
}

// GrazingPlan sweeps grazing pressure 0..1 without mechanical removal.
func GrazingPlan() Plan {
	return Plan{
		Name:  "grazing",
		Rows:  FixedAxis(ParamPeriod, 0),
		Cols:  mustAxis(ParamGrazing, Range{Start: 0, Stop: 1, Step: 0.1}),
		Base:  model.Management{Timing: constants.TimingAfter},
		Steps: 20,
		Seed:  constants.DefaultSeed,
	}
}

// RemovalPlan sweeps removal period 1..10 years against removal fraction
// 0.1..1 at fixed grazing pressure h.
func RemovalPlan(h float64) Plan {
	return Plan{
		Name:  "removal",
		Rows:  mustAxis(ParamPeriod, Range{Start: 1, Stop: 10, Step: 1}),
		Cols:  mustAxis(ParamFraction, Range{Start: 0.1, Stop: 1, Step: 0.1}),
		Base:  model.Management{Grazing: h, Timing: constants.TimingAfter},
		Steps: 50,
		Seed:  constants.DefaultSeed,
	}
}

// GrazingFractionPlan sweeps removal fraction against grazing pressure at a
// fixed removal period n.
func GrazingFractionPlan(n int) Plan {
	return Plan{
		Name:  "grazing-fraction",
		Rows:  mustAxis(ParamFraction, Range{Start: 0.1, Stop: 1, Step: 0.1}),
		Cols:  mustAxis(ParamGrazing, Range{Start: 0.1, Stop: 1, Step: 0.1}),
		Base:  model.Management{RemovalPeriod: n, Timing: constants.TimingAfter},
		Steps: 10,
		Seed:  constants.DefaultSeed,
	}
}
