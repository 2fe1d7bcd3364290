package main

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/shrubmanage/internal/export"
	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/montecarlo"
	"github.com/nvandessel/shrubmanage/internal/raster"
	"github.com/nvandessel/shrubmanage/internal/store"
	"github.com/nvandessel/shrubmanage/internal/visualization"
)

// sampleOutput summarises one ensemble sample.
type sampleOutput struct {
	Index        int     `json:"index"`
	RunID        string  `json:"run_id,omitempty"`
	Slope        float64 `json:"slope"`
	Guarded      bool    `json:"guarded"`
	Outcome      string  `json:"outcome"`
	FinalDensity float64 `json:"final_density"`
	Removals     int     `json:"removals"`
}

// stepOutput is a StepSummary with undefined growth left out.
type stepOutput struct {
	Step        int       `json:"step"`
	Mean        float64   `json:"mean"`
	Variance    float64   `json:"variance"`
	Percentiles []float64 `json:"percentiles"`
	MeanGrowth  *float64  `json:"mean_growth,omitempty"`
}

// cellStepOutput condenses the per-cell statistics after one step.
type cellStepOutput struct {
	Step          int     `json:"step"`
	MeanShrubProb float64 `json:"mean_shrub_probability"`
	MaxCellVar    float64 `json:"max_cell_variance"`
}

// ensembleOutput is the JSON result of a Monte Carlo run.
type ensembleOutput struct {
	Management    model.Management `json:"management"`
	Seed          uint64           `json:"seed"`
	FirstSlope    float64          `json:"first_slope"`
	Uncontrolled  int              `json:"uncontrolled"`
	Percentiles   []float64        `json:"percentile_levels"`
	Samples       []sampleOutput   `json:"samples"`
	Steps         []stepOutput     `json:"steps"`
	MeanShrubProb float64          `json:"mean_shrub_probability"`
	MaxCellVar    float64          `json:"max_cell_variance"`
	CellSteps     []cellStepOutput `json:"cell_steps,omitempty"`
	Elapsed       string           `json:"elapsed"`
	Plot          string           `json:"plot,omitempty"`
	Arrow         string           `json:"arrow,omitempty"`
	SnapshotDir   string           `json:"snapshot_dir,omitempty"`
	StoredSamples int              `json:"stored_samples"`
}

func newMonteCarloCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "montecarlo",
		Aliases: []string{"mc"},
		Short:   "Run an ensemble of independent realisations",
		Long: `Run --samples independent realisations from the same initial map and
summarise them: the slope of the first sample, density percentiles and
mean/variance per timestep, and per-cell statistics of the final maps.
With --cell-every N the per-cell statistics are also computed for the maps
after every N-th step.

Examples:
  shrubmanage montecarlo --samples 20 --steps 50
  shrubmanage montecarlo --grazing 0.4 --period 2 --fraction 0.5 --plot mc.png
  shrubmanage montecarlo --snapshot-dir runs/ --arrow mc.arrow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			noStore, _ := cmd.Flags().GetBool("no-store")
			mapPath, _ := cmd.Flags().GetString("map")
			plotPath, _ := cmd.Flags().GetString("plot")
			arrowPath, _ := cmd.Flags().GetString("arrow")
			snapshotDir, _ := cmd.Flags().GetString("snapshot-dir")
			every, _ := cmd.Flags().GetInt("every")
			cellEvery, _ := cmd.Flags().GetInt("cell-every")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if plotPath == "" && cfg.Output.Plots {
				plotPath = "montecarlo-density." + cfg.Output.PlotFormat
			}
			if arrowPath == "" && cfg.Output.Arrow {
				arrowPath = "montecarlo.arrow"
			}
			if snapshotDir == "" && cfg.Output.Snapshots {
				snapshotDir = "montecarlo-snapshots"
			}
			if plotPath != "" {
				if err := visualization.CheckFormat(plotPath); err != nil {
					return err
				}
			}

			logger, events := commandLoggers(cmd, cfg)
			defer events.Close()

			initial, err := initialGrid(cfg, mapPath, cfg.Run.Seed)
			if err != nil {
				return err
			}

			ens := montecarlo.Ensemble{
				Samples:    cfg.Run.Samples,
				Steps:      cfg.Run.Steps,
				Seed:       cfg.Run.Seed,
				Management: cfg.Management,
				Workers:    cfg.Sweep.Workers,
				Logger:     logger,
				Events:     events,
				CellEvery:  cellEvery,
			}

			recorders := make([]*raster.SnapshotRecorder, cfg.Run.Samples)
			if snapshotDir != "" {
				ens.Observer = func(sample int) (model.Observer, error) {
					recorders[sample] = raster.NewSnapshotRecorder()
					return recorders[sample], nil
				}
			}

			res, err := ens.Run(cmd.Context(), initial, cfg.Model)
			if err != nil {
				return fmt.Errorf("ensemble failed: %w", err)
			}

			out := newEnsembleOutput(cfg.Management, cfg.Run.Seed, res)

			if !noStore {
				s, err := openStore(cmd)
				if err != nil {
					return err
				}
				defer s.Close()
				for i, smp := range res.Samples {
					rec := store.NewRunRecord(store.KindEnsemble, cfg.Model, cfg.Management, cfg.Run.Seed, smp.Stream, smp.Trajectory, smp.Fit)
					rec.Sample = smp.Index
					id, err := s.SaveRun(cmd.Context(), rec)
					if err != nil {
						return fmt.Errorf("failed to save sample %d: %w", smp.Index, err)
					}
					out.Samples[i].RunID = id
					out.StoredSamples++
				}
			}

			if snapshotDir != "" {
				out.SnapshotDir = outputPath(cmd, cfg, snapshotDir)
				for i, r := range recorders {
					if r == nil {
						continue
					}
					path := filepath.Join(out.SnapshotDir, fmt.Sprintf("sample-%03d.snap", i))
					metadata := map[string]string{
						"sample":     strconv.Itoa(i),
						"management": cfg.Management.String(),
						"seed":       strconv.FormatUint(cfg.Run.Seed, 10),
					}
					if err := r.Write(path, metadata); err != nil {
						return fmt.Errorf("failed to write snapshot for sample %d: %w", i, err)
					}
				}
			}
			if plotPath != "" {
				out.Plot = outputPath(cmd, cfg, plotPath)
				curves := make([]visualization.Curve, 0, len(res.Samples))
				for _, smp := range res.Samples {
					curves = append(curves, visualization.Curve{Label: fmt.Sprintf("sample %d", smp.Index), Trajectory: smp.Trajectory})
				}
				if err := visualization.RenderDensity(out.Plot, curves); err != nil {
					return fmt.Errorf("failed to plot density: %w", err)
				}
			}
			if arrowPath != "" {
				out.Arrow = outputPath(cmd, cfg, arrowPath)
				series := make([]export.Series, len(res.Samples))
				for i, smp := range res.Samples {
					series[i] = export.Series{RunID: out.Samples[i].RunID, Sample: smp.Index, Trajectory: smp.Trajectory}
				}
				if err := export.WriteTrajectories(out.Arrow, series); err != nil {
					return fmt.Errorf("failed to export trajectories: %w", err)
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printEnsemble(cmd, out, every)
			return nil
		},
	}

	addRegimeFlags(cmd)
	cmd.Flags().Int("samples", 0, "Number of samples (default from config)")
	cmd.Flags().Int("steps", 0, "Number of yearly steps (default from config)")
	cmd.Flags().Uint64("seed", 0, "Random seed (default from config)")
	cmd.Flags().Int("workers", 0, "Samples run concurrently (default from config)")
	cmd.Flags().String("map", "", "Initial map as ESRI ASCII grid (default: generated)")
	cmd.Flags().String("plot", "", "Plot every sample's density (log-log) to this image file")
	cmd.Flags().String("arrow", "", "Export every sample's density series to this Arrow IPC file")
	cmd.Flags().String("snapshot-dir", "", "Write one snapshot file per sample into this directory")
	cmd.Flags().Int("every", 10, "Print the percentile table every N steps")
	cmd.Flags().Int("cell-every", 0, "Per-cell statistics of the maps every N steps (0 for final maps only)")
	cmd.Flags().Bool("no-store", false, "Do not save the samples to the results store")

	return cmd
}

func newEnsembleOutput(mgmt model.Management, seed uint64, res *montecarlo.Result) ensembleOutput {
	out := ensembleOutput{
		Management:  mgmt,
		Seed:        seed,
		FirstSlope:  res.FirstFit().Slope,
		Percentiles: montecarlo.Percentiles,
		Elapsed:     res.Elapsed.Round(time.Millisecond).String(),
	}
	for _, s := range res.Samples {
		out.Samples = append(out.Samples, sampleOutput{
			Index:        s.Index,
			Slope:        s.Fit.Slope,
			Guarded:      s.Fit.Guarded,
			Outcome:      s.Outcome.String(),
			FinalDensity: s.Trajectory.FinalDensity(),
			Removals:     len(s.Trajectory.Removals),
		})
		if s.Outcome == growth.Uncontrolled {
			out.Uncontrolled++
		}
	}
	for _, st := range res.Steps {
		so := stepOutput{Step: st.Step, Mean: st.Mean, Variance: st.Variance, Percentiles: st.Percentiles}
		if !math.IsNaN(st.MeanGrowth) {
			g := st.MeanGrowth
			so.MeanGrowth = &g
		}
		out.Steps = append(out.Steps, so)
	}
	out.MeanShrubProb, out.MaxCellVar = condenseCells(res.Cells)
	for _, cs := range res.CellSteps {
		mean, maxVar := condenseCells(cs.Cells)
		out.CellSteps = append(out.CellSteps, cellStepOutput{Step: cs.Step, MeanShrubProb: mean, MaxCellVar: maxVar})
	}
	return out
}

// condenseCells returns the mean shrub probability and the largest variance.
func condenseCells(cs montecarlo.CellSummary) (meanShrub, maxVar float64) {
	n := len(cs.ShrubProbability)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i, p := range cs.ShrubProbability {
		sum += p
		maxVar = math.Max(maxVar, cs.Variance[i])
	}
	return sum / float64(n), maxVar
}

func printEnsemble(cmd *cobra.Command, out ensembleOutput, every int) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Monte Carlo: %d samples, %s, seed %d\n", len(out.Samples), out.Management.String(), out.Seed)
	fmt.Fprintf(w, "Slope of shrub growth (sample 0): %.4f\n", out.FirstSlope)
	fmt.Fprintf(w, "Samples not controlled: %d of %d\n", out.Uncontrolled, len(out.Samples))
	fmt.Fprintf(w, "Mean shrub probability per cell: %.4f\n", out.MeanShrubProb)
	for _, cs := range out.CellSteps {
		fmt.Fprintf(w, "  after step %d: %.4f (max cell variance %.4f)\n", cs.Step, cs.MeanShrubProb, cs.MaxCellVar)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"step", "mean", "var"}
	for _, p := range out.Percentiles {
		header = append(header, fmt.Sprintf("p%02.0f", 100*p))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")
	for i, st := range out.Steps {
		last := i == len(out.Steps)-1
		if every > 1 && st.Step != 1 && st.Step%every != 0 && !last {
			continue
		}
		fields := []string{strconv.Itoa(st.Step), fmt.Sprintf("%.4f", st.Mean), fmt.Sprintf("%.2e", st.Variance)}
		for _, v := range st.Percentiles {
			fields = append(fields, fmt.Sprintf("%.4f", v))
		}
		fmt.Fprintln(tw, strings.Join(fields, "\t")+"\t")
	}
	tw.Flush()

	fmt.Fprintf(w, "\nElapsed: %s\n", out.Elapsed)
	if out.StoredSamples > 0 {
		fmt.Fprintf(w, "Stored %d samples\n", out.StoredSamples)
	}
	for _, f := range []struct{ label, path string }{
		{"Plot", out.Plot}, {"Arrow", out.Arrow}, {"Snapshots", out.SnapshotDir},
	} {
		if f.path != "" {
			fmt.Fprintf(w, "%s: %s\n", f.label, f.path)
		}
	}
}
