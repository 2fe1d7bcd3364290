package main

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/shrubmanage/internal/config"
	"github.com/nvandessel/shrubmanage/internal/constants"
	"github.com/nvandessel/shrubmanage/internal/export"
	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/logging"
	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/raster"
	"github.com/nvandessel/shrubmanage/internal/store"
	"github.com/nvandessel/shrubmanage/internal/visualization"
)

// runOutput is the JSON result of a single run.
type runOutput struct {
	ID           string           `json:"id"`
	Stored       bool             `json:"stored"`
	Management   model.Management `json:"management"`
	Steps        int              `json:"steps"`
	Seed         uint64           `json:"seed"`
	Fit          growth.Fit       `json:"fit"`
	Outcome      string           `json:"outcome"`
	FinalDensity float64          `json:"final_density"`
	Removals     int              `json:"removals"`
	Snapshot     string           `json:"snapshot,omitempty"`
	Plot         string           `json:"plot,omitempty"`
	MapPlot      string           `json:"map_plot,omitempty"`
	Arrow        string           `json:"arrow,omitempty"`
	Elapsed      string           `json:"elapsed"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single simulation under one management regime",
		Long: `Run the automaton once and fit a power law to shrub density.

A positive slope means shrub expansion is not controlled. Unless --no-store
is given the run and its density series are saved to the results store.

Examples:
  shrubmanage run                                   # config defaults
  shrubmanage run --grazing 0.5 --period 3 --fraction 0.4
  shrubmanage run --map biotope.asc --steps 50 --plot density.png
  shrubmanage run --snapshot run.snap --arrow run.arrow --no-store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			noStore, _ := cmd.Flags().GetBool("no-store")
			mapPath, _ := cmd.Flags().GetString("map")
			snapshotPath, _ := cmd.Flags().GetString("snapshot")
			plotPath, _ := cmd.Flags().GetString("plot")
			mapPlotPath, _ := cmd.Flags().GetString("plot-map")
			arrowPath, _ := cmd.Flags().GetString("arrow")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			logger, events := commandLoggers(cmd, cfg)
			defer events.Close()

			initial, err := initialGrid(cfg, mapPath, cfg.Run.Seed)
			if err != nil {
				return err
			}

			id := store.NewID()
			if snapshotPath == "" && cfg.Output.Snapshots {
				snapshotPath = "run-" + id[:8] + ".snap"
			}
			if plotPath == "" && cfg.Output.Plots {
				plotPath = "run-" + id[:8] + "-density." + cfg.Output.PlotFormat
			}
			if arrowPath == "" && cfg.Output.Arrow {
				arrowPath = "run-" + id[:8] + ".arrow"
			}
			for _, p := range []string{plotPath, mapPlotPath} {
				if p != "" {
					if err := visualization.CheckFormat(p); err != nil {
						return err
					}
				}
			}

			rng := rand.New(rand.NewPCG(cfg.Run.Seed, 0))
			m, err := model.New(initial, cfg.Model, cfg.Management, rng, model.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to create model: %w", err)
			}

			var recorder *raster.SnapshotRecorder
			var obs model.Observer
			if snapshotPath != "" {
				recorder = raster.NewSnapshotRecorder()
				obs = recorder
			}

			events.Event(logging.EventRunStart, map[string]any{
				"run":        id,
				"management": cfg.Management.String(),
				"steps":      cfg.Run.Steps,
				"seed":       cfg.Run.Seed,
				"width":      initial.Width,
				"height":     initial.Height,
			})
			logger.Info("run started", "id", id, "management", cfg.Management.String(), "steps", cfg.Run.Steps)

			start := time.Now()
			traj, err := m.Run(cmd.Context(), cfg.Run.Steps, obs)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			elapsed := time.Since(start)

			for _, r := range traj.Removals {
				events.Event(logging.EventRemoval, map[string]any{
					"run":     id,
					"step":    r.Step,
					"removed": r.Removed,
				})
			}

			fit, err := growth.FitPowerLaw(traj.Steps(), traj.DensityValues())
			if err != nil {
				return fmt.Errorf("failed to fit growth: %w", err)
			}

			events.Event(logging.EventRunComplete, map[string]any{
				"run":           id,
				"slope":         fit.Slope,
				"guarded":       fit.Guarded,
				"outcome":       fit.Outcome().String(),
				"final_density": traj.FinalDensity(),
				"elapsed_ms":    elapsed.Milliseconds(),
			})
			logger.Info("run complete", "id", id, "slope", fit.Slope, "outcome", fit.Outcome().String(),
				"elapsed", elapsed.Round(time.Millisecond))

			out := runOutput{
				ID:           id,
				Management:   cfg.Management,
				Steps:        cfg.Run.Steps,
				Seed:         cfg.Run.Seed,
				Fit:          fit,
				Outcome:      fit.Outcome().String(),
				FinalDensity: traj.FinalDensity(),
				Removals:     len(traj.Removals),
				Elapsed:      elapsed.Round(time.Millisecond).String(),
			}

			if !noStore {
				s, err := openStore(cmd)
				if err != nil {
					return err
				}
				defer s.Close()

				rec := store.NewRunRecord(store.KindSingle, cfg.Model, cfg.Management, cfg.Run.Seed, 0, traj, fit)
				rec.ID = id
				if _, err := s.SaveRun(cmd.Context(), rec); err != nil {
					return fmt.Errorf("failed to save run: %w", err)
				}
				out.Stored = true
			}

			if recorder != nil {
				out.Snapshot = outputPath(cmd, cfg, snapshotPath)
				metadata := map[string]string{
					"run":        id,
					"management": cfg.Management.String(),
					"seed":       strconv.FormatUint(cfg.Run.Seed, 10),
				}
				if err := recorder.Write(out.Snapshot, metadata); err != nil {
					return fmt.Errorf("failed to write snapshot: %w", err)
				}
			}
			if plotPath != "" {
				out.Plot = outputPath(cmd, cfg, plotPath)
				curve := visualization.Curve{Label: cfg.Management.String(), Trajectory: traj}
				if err := visualization.RenderDensity(out.Plot, []visualization.Curve{curve}); err != nil {
					return fmt.Errorf("failed to plot density: %w", err)
				}
			}
			if mapPlotPath != "" {
				out.MapPlot = outputPath(cmd, cfg, mapPlotPath)
				if err := visualization.RenderGrid(out.MapPlot, traj.Final); err != nil {
					return fmt.Errorf("failed to plot final map: %w", err)
				}
			}
			if arrowPath != "" {
				out.Arrow = outputPath(cmd, cfg, arrowPath)
				series := []export.Series{{RunID: id, Trajectory: traj}}
				if err := export.WriteTrajectories(out.Arrow, series); err != nil {
					return fmt.Errorf("failed to export trajectory: %w", err)
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printRun(cmd, out)
			return nil
		},
	}

	addRegimeFlags(cmd)
	cmd.Flags().Int("steps", 0, "Number of yearly steps (default from config)")
	cmd.Flags().Uint64("seed", 0, "Random seed (default from config)")
	cmd.Flags().String("map", "", "Initial map as ESRI ASCII grid (default: generated)")
	cmd.Flags().String("snapshot", "", "Write the biotope at every step to this snapshot file")
	cmd.Flags().String("plot", "", "Plot shrub density (log-log) to this image file")
	cmd.Flags().String("plot-map", "", "Plot the final biotope to this image file")
	cmd.Flags().String("arrow", "", "Export the density series to this Arrow IPC file")
	cmd.Flags().Bool("no-store", false, "Do not save the run to the results store")

	return cmd
}

// addRegimeFlags registers the management flags shared by run and montecarlo.
func addRegimeFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("grazing", 0, "Grazing pressure h in [0, 1] (default from config)")
	cmd.Flags().Int("period", 0, "Years between removal events, 0 disables removal (default from config)")
	cmd.Flags().Float64("fraction", 0, "Fraction of shrub cells removed per event (default from config)")
	cmd.Flags().String("timing", "", "Removal before or after the yearly transitions (default from config)")
}

// applyRunFlags copies explicitly set regime and run flags into cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.ShrubConfig) error {
	flags := cmd.Flags()
	if flags.Changed("grazing") {
		cfg.Management.Grazing, _ = flags.GetFloat64("grazing")
	}
	if flags.Changed("period") {
		cfg.Management.RemovalPeriod, _ = flags.GetInt("period")
	}
	if flags.Changed("fraction") {
		cfg.Management.RemovalFraction, _ = flags.GetFloat64("fraction")
	}
	if flags.Changed("timing") {
		v, _ := flags.GetString("timing")
		timing, ok := constants.ParseRemovalTiming(v)
		if !ok {
			return fmt.Errorf("invalid timing: %s (valid: after, before)", v)
		}
		cfg.Management.Timing = timing
	}
	if flags.Lookup("steps") != nil && flags.Changed("steps") {
		cfg.Run.Steps, _ = flags.GetInt("steps")
	}
	if flags.Lookup("samples") != nil && flags.Changed("samples") {
		cfg.Run.Samples, _ = flags.GetInt("samples")
	}
	if flags.Lookup("seed") != nil && flags.Changed("seed") {
		cfg.Run.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Lookup("workers") != nil && flags.Changed("workers") {
		cfg.Sweep.Workers, _ = flags.GetInt("workers")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

func printRun(cmd *cobra.Command, out runOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (%s, %d steps, seed %d)\n", out.ID, out.Management.String(), out.Steps, out.Seed)
	if out.Fit.Guarded {
		fmt.Fprintf(w, "  Slope of shrub growth: %.4f (shrub cover reached zero)\n", out.Fit.Slope)
	} else {
		fmt.Fprintf(w, "  Slope of shrub growth: %.4f\n", out.Fit.Slope)
	}
	fmt.Fprintf(w, "  Shrub expansion:       %s\n", out.Outcome)
	fmt.Fprintf(w, "  Final shrub density:   %.4f\n", out.FinalDensity)
	fmt.Fprintf(w, "  Removal events:        %d\n", out.Removals)
	fmt.Fprintf(w, "  Elapsed:               %s\n", out.Elapsed)
	for _, f := range []struct{ label, path string }{
		{"Snapshot", out.Snapshot}, {"Density plot", out.Plot}, {"Map plot", out.MapPlot}, {"Arrow", out.Arrow},
	} {
		if f.path != "" {
			fmt.Fprintf(w, "  %-22s %s\n", f.label+":", f.path)
		}
	}
	if !out.Stored {
		fmt.Fprintln(w, "  (not stored)")
	}
}
