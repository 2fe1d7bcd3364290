// Package model implements the stochastic grass/shrub/empty transition rules
// and the yearly step loop of the shrub encroachment automaton.
package model

import (
	"fmt"

	"github.com/nvandessel/shrubmanage/internal/constants"
)

// Params holds the transition rate parameters.
type Params struct {
	B1    float64 `json:"b1" yaml:"b1"`
	B2    float64 `json:"b2" yaml:"b2"`
	B3    float64 `json:"b3" yaml:"b3"`
	S1    float64 `json:"s1" yaml:"s1"`
	S2    float64 `json:"s2" yaml:"s2"`
	BG    float64 `json:"bg" yaml:"bg"`
	C     float64 `json:"c" yaml:"c"`
	DS    float64 `json:"ds" yaml:"ds"`
	DG    float64 `json:"dg" yaml:"dg"`
	Theta float64 `json:"theta" yaml:"theta"`
}

// DefaultParams returns the published parameter set.
func DefaultParams() Params {
	return Params{
		B1:    constants.DefaultB1,
		B2:    constants.DefaultB2,
		B3:    constants.DefaultB3,
		S1:    constants.DefaultS1,
		S2:    constants.DefaultS2,
		BG:    constants.DefaultBG,
		C:     constants.DefaultC,
		DS:    constants.DefaultDS,
		DG:    constants.DefaultDG,
		Theta: constants.DefaultTheta,
	}
}

// Validate rejects negative rates.
func (p Params) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"b1", p.B1}, {"b2", p.B2}, {"b3", p.B3}, {"s1", p.S1}, {"s2", p.S2},
		{"bg", p.BG}, {"c", p.C}, {"ds", p.DS}, {"dg", p.DG}, {"theta", p.Theta},
	}
	for _, f := range fields {
		if f.v < 0 {
			return fmt.Errorf("parameter %s must be non-negative, got %g", f.name, f.v)
		}
	}
	return nil
}

// Management describes the grazing and mechanical removal regime.
type Management struct {
	// Grazing is the grazing pressure h in [0, 1]. It suppresses shrub
	// establishment on grass cells.
	Grazing float64 `json:"grazing" yaml:"grazing"`

	// RemovalPeriod is the number of years n between removal events.
	// Values <= 0 disable removal.
	RemovalPeriod int `json:"removal_period" yaml:"removal_period"`

	// RemovalFraction is the probability f that a shrub cell is cleared
	// during a removal event.
	RemovalFraction float64 `json:"removal_fraction" yaml:"removal_fraction"`

	// Timing places the removal event before or after the transitions.
	Timing constants.RemovalTiming `json:"timing" yaml:"timing"`
}

// DefaultManagement returns the single-run management defaults.
func DefaultManagement() Management {
	return Management{
		Grazing:         constants.DefaultGrazing,
		RemovalPeriod:   constants.DefaultRemovalPeriod,
		RemovalFraction: constants.DefaultRemovalFraction,
		Timing:          constants.TimingAfter,
	}
}

// Validate checks ranges of the management regime.
func (m Management) Validate() error {
	if m.Grazing < 0 || m.Grazing > 1 {
		return fmt.Errorf("grazing must be between 0 and 1, got %g", m.Grazing)
	}
	if m.RemovalFraction < 0 || m.RemovalFraction > 1 {
		return fmt.Errorf("removal fraction must be between 0 and 1, got %g", m.RemovalFraction)
	}
	if m.Timing != "" && !m.Timing.Valid() {
		return fmt.Errorf("invalid removal timing: %s (valid: after, before)", m.Timing)
	}
	return nil
}

// RemovalEnabled reports whether removal events ever happen.
func (m Management) RemovalEnabled() bool {
	return m.RemovalPeriod > 0 && m.RemovalFraction > 0
}

// String formats the regime for log lines.
func (m Management) String() string {
	return fmt.Sprintf("h=%.2f n=%d f=%.2f", m.Grazing, m.RemovalPeriod, m.RemovalFraction)
}
