// Package montecarlo runs independent realisations of the automaton from one
// initial map and summarises them across samples.
package montecarlo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/logging"
	"github.com/nvandessel/shrubmanage/internal/model"
)

// Percentiles are the cumulative probabilities reported per timestep.
var Percentiles = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// Ensemble configures a Monte Carlo run.
type Ensemble struct {
	Samples    int
	Steps      int
	Seed       uint64
	Management model.Management

	// Workers bounds concurrent samples. Values < 1 mean 1.
	Workers int

	Logger *slog.Logger
	Events *logging.RunLogger

	// Observer, if set, builds an observer for each sample (e.g. a snapshot
	// recorder). It is called from the sample's goroutine.
	Observer func(sample int) (model.Observer, error)

	// CellEvery, if positive, adds per-cell statistics of the maps after
	// every CellEvery-th step to Result.CellSteps.
	CellEvery int
}

// Sample is one realisation.
type Sample struct {
	Index      int              `json:"index"`
	Stream     uint64           `json:"stream"`
	Trajectory model.Trajectory `json:"trajectory"`
	Fit        growth.Fit       `json:"fit"`
	Outcome    growth.Outcome   `json:"outcome"`

	maps []stepMap
}

type stepMap struct {
	step  int
	cells []biotope.State
}

// StepSummary holds cross-sample statistics for one timestep.
type StepSummary struct {
	Step        int       `json:"step"`
	Mean        float64   `json:"mean"`
	Variance    float64   `json:"variance"`
	Percentiles []float64 `json:"percentiles"`

	// MeanGrowth is the mean finite intrinsic growth, NaN if none.
	MeanGrowth float64 `json:"mean_growth"`
}

// CellSummary holds per-cell statistics of one map across samples,
// row-major.
type CellSummary struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Mean     []float64 `json:"mean"`
	Variance []float64 `json:"variance"`

	// Percentiles[k][c] is the state of cell c at level Percentiles[k].
	Percentiles [][]float64 `json:"percentiles"`

	// ShrubProbability is the share of samples where the cell is shrub.
	ShrubProbability []float64 `json:"shrub_probability"`
}

// CellStepSummary is a CellSummary of the maps after one step.
type CellStepSummary struct {
	Step  int         `json:"step"`
	Cells CellSummary `json:"cells"`
}

// Result is the outcome of an ensemble run.
type Result struct {
	Samples []Sample      `json:"samples"`
	Steps   []StepSummary `json:"steps"`
	Cells   CellSummary   `json:"cells"`
	Elapsed time.Duration `json:"elapsed"`

	// CellSteps is set when Ensemble.CellEvery is positive.
	CellSteps []CellStepSummary `json:"cell_steps,omitempty"`
}

// FirstFit is the fit of the first sample.
func (r *Result) FirstFit() growth.Fit {
	if len(r.Samples) == 0 {
		return growth.Fit{Slope: -1, Guarded: true}
	}
	return r.Samples[0].Fit
}

// Validate checks the ensemble settings.
func (e Ensemble) Validate() error {
	if e.Samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", e.Samples)
	}
	if e.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", e.Steps)
	}
	if e.CellEvery < 0 {
		return fmt.Errorf("cell statistics interval must not be negative, got %d", e.CellEvery)
	}
	return e.Management.Validate()
}

// Run executes every sample from initial. Sample i draws from the random
// stream (Seed, i), so results do not depend on the worker count.
func (e Ensemble) Run(ctx context.Context, initial *biotope.Grid, params model.Params) (*Result, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ensemble: %w", err)
	}
	if initial == nil {
		return nil, fmt.Errorf("initial grid is required")
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := max(e.Workers, 1)

	start := time.Now()
	samples := make([]Sample, e.Samples)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range samples {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s, err := e.runSample(gctx, i, initial, params, logger)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Samples: samples,
		Steps:   summariseSteps(samples, e.Steps),
		Cells:   summariseFinalCells(samples, initial.Width, initial.Height),
		Elapsed: time.Since(start),
	}
	if e.CellEvery > 0 {
		res.CellSteps = summariseCellSteps(samples, initial.Width, initial.Height)
	}
	logger.Info("ensemble complete",
		"samples", e.Samples,
		"steps", e.Steps,
		"first_slope", res.FirstFit().Slope,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (e Ensemble) runSample(ctx context.Context, i int, initial *biotope.Grid, params model.Params, logger *slog.Logger) (Sample, error) {
	stream := uint64(i)
	rng := rand.New(rand.NewPCG(e.Seed, stream))
	m, err := model.New(initial, params, e.Management, rng, model.WithLogger(logger.With("sample", i)))
	if err != nil {
		return Sample{}, err
	}

	var obs observers
	if e.Observer != nil {
		o, err := e.Observer(i)
		if err != nil {
			return Sample{}, fmt.Errorf("creating observer: %w", err)
		}
		if o != nil {
			obs = append(obs, o)
		}
	}
	var cells *cellRecorder
	if e.CellEvery > 0 {
		cells = &cellRecorder{every: e.CellEvery}
		obs = append(obs, cells)
	}

	var runObs model.Observer
	if len(obs) > 0 {
		runObs = obs
	}
	traj, err := m.Run(ctx, e.Steps, runObs)
	if err != nil {
		return Sample{}, err
	}
	fit, err := growth.FitPowerLaw(traj.Steps(), traj.DensityValues())
	if err != nil {
		return Sample{}, fmt.Errorf("fitting growth: %w", err)
	}

	s := Sample{Index: i, Stream: stream, Trajectory: traj, Fit: fit, Outcome: fit.Outcome()}
	if cells != nil {
		s.maps = cells.maps
	}
	logger.Debug("ensemble sample", "sample", i, "slope", fit.Slope, "final_density", traj.FinalDensity())
	e.Events.Event(logging.EventEnsembleSample, map[string]any{
		"sample":        i,
		"slope":         fit.Slope,
		"guarded":       fit.Guarded,
		"outcome":       s.Outcome.String(),
		"final_density": traj.FinalDensity(),
		"removals":      len(traj.Removals),
	})
	return s, nil
}

func summariseSteps(samples []Sample, steps int) []StepSummary {
	out := make([]StepSummary, steps)
	densities := make([]float64, len(samples))
	growths := make([]float64, len(samples))

	for t := range out {
		for i, s := range samples {
			densities[i] = s.Trajectory.Densities[t].Density
			growths[i] = s.Trajectory.Growth[t]
		}
		mean, variance := meanVariance(densities)

		sorted := slices.Clone(densities)
		slices.Sort(sorted)
		pct := make([]float64, len(Percentiles))
		for k, p := range Percentiles {
			pct[k] = stat.Quantile(p, stat.Empirical, sorted, nil)
		}

		out[t] = StepSummary{
			Step:        samples[0].Trajectory.Densities[t].Step,
			Mean:        mean,
			Variance:    variance,
			Percentiles: pct,
			MeanGrowth:  growth.MeanGrowth(growths),
		}
	}
	return out
}

func summariseFinalCells(samples []Sample, width, height int) CellSummary {
	maps := make([][]biotope.State, len(samples))
	for i, s := range samples {
		maps[i] = s.Trajectory.Final.Cells
	}
	return summariseCells(maps, width, height)
}

// summariseCellSteps assumes every sample recorded the same steps.
func summariseCellSteps(samples []Sample, width, height int) []CellStepSummary {
	out := make([]CellStepSummary, len(samples[0].maps))
	maps := make([][]biotope.State, len(samples))
	for k := range out {
		for i, s := range samples {
			maps[i] = s.maps[k].cells
		}
		out[k] = CellStepSummary{
			Step:  samples[0].maps[k].step,
			Cells: summariseCells(maps, width, height),
		}
	}
	return out
}

func summariseCells(maps [][]biotope.State, width, height int) CellSummary {
	area := width * height
	cs := CellSummary{
		Width:            width,
		Height:           height,
		Mean:             make([]float64, area),
		Variance:         make([]float64, area),
		Percentiles:      make([][]float64, len(Percentiles)),
		ShrubProbability: make([]float64, area),
	}
	for k := range cs.Percentiles {
		cs.Percentiles[k] = make([]float64, area)
	}

	values := make([]float64, len(maps))
	sorted := make([]float64, len(maps))
	for c := 0; c < area; c++ {
		shrub := 0
		for i, m := range maps {
			values[i] = float64(m[c])
			if m[c] == biotope.Shrub {
				shrub++
			}
		}
		cs.Mean[c], cs.Variance[c] = meanVariance(values)
		cs.ShrubProbability[c] = float64(shrub) / float64(len(maps))

		copy(sorted, values)
		slices.Sort(sorted)
		for k, p := range Percentiles {
			cs.Percentiles[k][c] = stat.Quantile(p, stat.Empirical, sorted, nil)
		}
	}
	return cs
}

// cellRecorder keeps a copy of the map after every n-th step.
type cellRecorder struct {
	every int
	maps  []stepMap
}

func (r *cellRecorder) Observe(step int, g *biotope.Grid) error {
	if step == 0 || step%r.every != 0 {
		return nil
	}
	r.maps = append(r.maps, stepMap{step: step, cells: slices.Clone(g.Cells)})
	return nil
}

// observers fans one grid out to several observers.
type observers []model.Observer

func (o observers) Observe(step int, g *biotope.Grid) error {
	for _, obs := range o {
		if err := obs.Observe(step, g); err != nil {
			return err
		}
	}
	return nil
}

// meanVariance returns the mean and unbiased variance; the variance of a
// single value is 0.
func meanVariance(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	mean, variance := stat.MeanVariance(x, nil)
	if math.IsNaN(variance) {
		variance = 0
	}
	return mean, variance
}
