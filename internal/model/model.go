package model

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/constants"
	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/logging"
)

// DensityPoint is the shrub cover recorded at the start of a yearly step.
type DensityPoint struct {
	Step    int     `json:"step"`
	Density float64 `json:"density"`
}

// RemovalEvent records a mechanical removal.
type RemovalEvent struct {
	Step    int `json:"step"`
	Removed int `json:"removed"`
}

// StepStats summarises one yearly step.
type StepStats struct {
	Step        int
	Density     float64 // shrub cover before the step
	ShrubBefore int
	ShrubAfter  int
	GrassGained int
	GrassLost   int
	ShrubGained int
	ShrubLost   int
	Removal     *RemovalEvent

	// Growth is ln(ShrubAfter/ShrubBefore), NaN when either count is zero.
	Growth float64
}

// Trajectory is the full record of a run.
type Trajectory struct {
	Densities []DensityPoint `json:"densities"`
	Growth    []float64      `json:"growth"`
	Removals  []RemovalEvent `json:"removals"`
	Final     *biotope.Grid  `json:"-"`
}

// Steps returns the 1-based timesteps as floats, aligned with DensityValues.
func (t Trajectory) Steps() []float64 {
	out := make([]float64, len(t.Densities))
	for i, d := range t.Densities {
		out[i] = float64(d.Step)
	}
	return out
}

// DensityValues returns the recorded shrub densities.
func (t Trajectory) DensityValues() []float64 {
	out := make([]float64, len(t.Densities))
	for i, d := range t.Densities {
		out[i] = d.Density
	}
	return out
}

// FinalDensity returns the shrub cover of the final grid, or 0 without one.
func (t Trajectory) FinalDensity() float64 {
	if t.Final == nil {
		return 0
	}
	return t.Final.Fraction(biotope.Shrub)
}

// Observer receives the grid at step 0 (initial state) and after every step.
// The grid must not be retained; clone it if needed.
type Observer interface {
	Observe(step int, g *biotope.Grid) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(step int, g *biotope.Grid) error

// Observe calls f.
func (f ObserverFunc) Observe(step int, g *biotope.Grid) error {
	return f(step, g)
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger used for per-step debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// Model is a single stochastic realisation of the automaton.
// It is not safe for concurrent use.
type Model struct {
	grid   *biotope.Grid
	params Params
	mgmt   Management
	rng    *rand.Rand
	logger *slog.Logger

	year   int
	step   int
	random []float64

	// established is the shrub mask at the start of the latest shrub phase.
	// Only those cells are eligible for removal.
	established []bool
}

// New creates a model over a copy of initial.
func New(initial *biotope.Grid, params Params, mgmt Management, rng *rand.Rand, opts ...Option) (*Model, error) {
	if initial == nil {
		return nil, fmt.Errorf("initial grid is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial grid: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if err := mgmt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid management: %w", err)
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if mgmt.Timing == "" {
		mgmt.Timing = constants.TimingAfter
	}

	m := &Model{
		grid:   initial.Clone(),
		params: params,
		mgmt:   mgmt,
		rng:    rng,
		logger: slog.New(slog.DiscardHandler),
		random: make([]float64, initial.Area()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Grid returns the current grid. Callers must not modify it.
func (m *Model) Grid() *biotope.Grid {
	return m.grid
}

// CurrentStep returns the number of completed steps.
func (m *Model) CurrentStep() int {
	return m.step
}

// Step advances the automaton by one year.
func (m *Model) Step() StepStats {
	m.step++
	pre := m.grid.Count(biotope.Shrub)
	stats := StepStats{
		Step:        m.step,
		Density:     float64(pre) / float64(m.grid.Area()),
		ShrubBefore: pre,
	}

	if m.mgmt.Timing == constants.TimingBefore {
		stats.Removal = m.removal()
	}

	// One draw per cell, shared by both phases.
	for i := range m.random {
		m.random[i] = m.rng.Float64()
	}
	stats.GrassGained, stats.GrassLost = m.grassPhase()
	stats.ShrubGained, stats.ShrubLost = m.shrubPhase()

	if m.mgmt.Timing == constants.TimingAfter {
		stats.Removal = m.removal()
	}

	stats.ShrubAfter = m.grid.Count(biotope.Shrub)
	stats.Growth = growth.IntrinsicGrowth(stats.ShrubBefore, stats.ShrubAfter)

	m.logger.Log(context.Background(), logging.LevelTrace, "step",
		"step", stats.Step,
		"density", stats.Density,
		"shrub_gained", stats.ShrubGained,
		"shrub_lost", stats.ShrubLost,
		"grass_gained", stats.GrassGained,
		"grass_lost", stats.GrassLost)
	return stats
}

// grassPhase applies grass colonisation and death simultaneously.
func (m *Model) grassPhase() (gained, lost int) {
	grass := m.grid.Mask(biotope.Grass)
	q := m.grid.NeighbourFraction(grass)
	pGrass := float64(m.grid.Count(biotope.Grass)) / float64(m.grid.Area())
	death := m.params.GrassToEmpty()

	for i, s := range m.grid.Cells {
		r := m.random[i]
		switch s {
		case biotope.Empty:
			if m.params.EmptyToGrass(q[i], pGrass) > r {
				m.grid.Cells[i] = biotope.Grass
				gained++
			}
		case biotope.Grass:
			if death > r {
				m.grid.Cells[i] = biotope.Empty
				lost++
			}
		}
	}
	return gained, lost
}

// shrubPhase applies shrub establishment and death simultaneously, using the
// shrub mask left by the grass phase.
func (m *Model) shrubPhase() (gained, lost int) {
	shrub := m.grid.Mask(biotope.Shrub)
	m.established = shrub
	q := m.grid.NeighbourFraction(shrub)
	h := m.mgmt.Grazing

	for i, s := range m.grid.Cells {
		r := m.random[i]
		switch s {
		case biotope.Empty:
			if m.params.EmptyToShrub(q[i]) > r {
				m.grid.Cells[i] = biotope.Shrub
				gained++
			}
		case biotope.Grass:
			if m.params.GrassToShrub(q[i], h) > r {
				m.grid.Cells[i] = biotope.Shrub
				gained++
			}
		case biotope.Shrub:
			if m.params.ShrubToEmpty(q[i]) > r {
				m.grid.Cells[i] = biotope.Empty
				lost++
			}
		}
	}
	return gained, lost
}

// removal advances the year counter and clears shrub cells on removal years.
// Shrubs established in the latest shrub phase are spared; before the first
// shrub phase every shrub cell is eligible.
func (m *Model) removal() *RemovalEvent {
	m.year++
	if m.mgmt.RemovalPeriod <= 0 || m.year != m.mgmt.RemovalPeriod {
		return nil
	}
	m.year = 0

	eligible := m.established
	if eligible == nil {
		eligible = m.grid.Mask(biotope.Shrub)
	}
	removed := 0
	for i, s := range m.grid.Cells {
		if s == biotope.Shrub && eligible[i] && m.rng.Float64() < m.mgmt.RemovalFraction {
			m.grid.Cells[i] = biotope.Empty
			removed++
		}
	}
	m.logger.Debug("removal event", "step", m.step, "removed", removed, "fraction", m.mgmt.RemovalFraction)
	return &RemovalEvent{Step: m.step, Removed: removed}
}

// Run advances the model by steps years. The observer, if non-nil, sees the
// initial grid and the grid after every step. Cancellation is checked
// between steps; the partial trajectory is returned with the context error.
func (m *Model) Run(ctx context.Context, steps int, obs Observer) (Trajectory, error) {
	traj := Trajectory{
		Densities: make([]DensityPoint, 0, steps),
		Growth:    make([]float64, 0, steps),
	}

	if obs != nil {
		if err := obs.Observe(m.step, m.grid); err != nil {
			return traj, fmt.Errorf("observer at step %d: %w", m.step, err)
		}
	}

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			traj.Final = m.grid.Clone()
			return traj, err
		}

		st := m.Step()
		traj.Densities = append(traj.Densities, DensityPoint{Step: st.Step, Density: st.Density})
		traj.Growth = append(traj.Growth, st.Growth)
		if st.Removal != nil {
			traj.Removals = append(traj.Removals, *st.Removal)
		}

		if obs != nil {
			if err := obs.Observe(st.Step, m.grid); err != nil {
				return traj, fmt.Errorf("observer at step %d: %w", st.Step, err)
			}
		}
	}

	traj.Final = m.grid.Clone()
	return traj, nil
}
