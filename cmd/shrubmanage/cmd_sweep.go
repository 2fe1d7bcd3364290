package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/shrubmanage/internal/config"
	"github.com/nvandessel/shrubmanage/internal/constants"
	"github.com/nvandessel/shrubmanage/internal/export"
	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/store"
	"github.com/nvandessel/shrubmanage/internal/sweep"
	"github.com/nvandessel/shrubmanage/internal/visualization"
)

// sweepOutput is the JSON result of a sweep.
type sweepOutput struct {
	ID           string      `json:"id,omitempty"`
	Plan         sweep.Plan  `json:"plan"`
	Slopes       [][]float64 `json:"slopes"`
	Outcomes     [][]int     `json:"outcomes"`
	Controlled   int         `json:"controlled"`
	Uncontrolled int         `json:"uncontrolled"`
	Guarded      int         `json:"guarded"`
	Elapsed      string      `json:"elapsed"`
	Plot         string      `json:"plot,omitempty"`
	Arrow        string      `json:"arrow,omitempty"`
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a management sweep and classify each regime",
		Long: `Run the automaton over a grid of management regimes.

Every cell of the sweep is one run; its density series is fitted and the
regime classified as controlled (slope <= 0) or not controlled (slope > 0).
Cells run concurrently on --workers goroutines and each cell draws from its
own random stream, so results do not depend on the worker count.

Examples:
  shrubmanage sweep grazing                       # h = 0.0..1.0, no removal
  shrubmanage sweep removal --grazing 0.3         # period x fraction
  shrubmanage sweep grazing-fraction --period 5   # fraction x grazing
  shrubmanage sweep custom --cols grazing --col-start 0 --col-stop 1 --col-step 0.25 \
      --rows fraction --row-start 0.2 --row-stop 0.8 --row-step 0.2`,
	}

	cmd.PersistentFlags().Int("steps", 0, "Yearly steps per cell (default from the sweep preset)")
	cmd.PersistentFlags().Uint64("seed", 0, "Random seed (default from config)")
	cmd.PersistentFlags().Int("workers", 0, "Cells run concurrently (default from config)")
	cmd.PersistentFlags().String("map", "", "Initial map as ESRI ASCII grid (default: generated)")
	cmd.PersistentFlags().String("timing", "", "Removal before or after the yearly transitions (default from config)")
	cmd.PersistentFlags().String("plot", "", "Plot the outcome surface to this image file")
	cmd.PersistentFlags().String("arrow", "", "Export the surface to this Arrow IPC file")
	cmd.PersistentFlags().Bool("no-store", false, "Do not save the sweep to the results store")

	cmd.AddCommand(
		newSweepGrazingCmd(),
		newSweepRemovalCmd(),
		newSweepGrazingFractionCmd(),
		newSweepCustomCmd(),
	)

	return cmd
}

func newSweepGrazingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grazing",
		Short: "Sweep grazing pressure 0..1 without removal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, func(*config.ShrubConfig) (sweep.Plan, error) {
				return sweep.GrazingPlan(), nil
			})
		},
	}
}

func newSweepRemovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "removal",
		Short: "Sweep removal period 1..10 against removal fraction 0.1..1",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, func(cfg *config.ShrubConfig) (sweep.Plan, error) {
				h := cfg.Management.Grazing
				if cmd.Flags().Changed("grazing") {
					h, _ = cmd.Flags().GetFloat64("grazing")
				}
				return sweep.RemovalPlan(h), nil
			})
		},
	}
	cmd.Flags().Float64("grazing", 0, "Fixed grazing pressure (default from config)")
	return cmd
}

func newSweepGrazingFractionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grazing-fraction",
		Short: "Sweep removal fraction against grazing pressure at a fixed period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, func(cfg *config.ShrubConfig) (sweep.Plan, error) {
				n := cfg.Management.RemovalPeriod
				if cmd.Flags().Changed("period") {
					n, _ = cmd.Flags().GetInt("period")
				}
				return sweep.GrazingFractionPlan(n), nil
			})
		},
	}
	cmd.Flags().Int("period", constants.DefaultRemovalPeriod, "Fixed removal period in years (default from config)")
	return cmd
}

func newSweepCustomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custom",
		Short: "Sweep arbitrary ranges of grazing, period and fraction",
		Long: `Sweep one or two management parameters over inclusive ranges.

--cols is required. Without --rows the sweep is one-dimensional and the
remaining settings come from the config's management section.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, func(cfg *config.ShrubConfig) (sweep.Plan, error) {
				return customPlan(cmd, cfg)
			})
		},
	}
	cmd.Flags().String("name", "custom", "Sweep name")
	cmd.Flags().String("cols", "", "Column parameter: grazing, period, fraction")
	cmd.Flags().Float64("col-start", 0, "First column value")
	cmd.Flags().Float64("col-stop", 1, "Last column value (inclusive)")
	cmd.Flags().Float64("col-step", 0.1, "Column increment")
	cmd.Flags().String("rows", "", "Row parameter: grazing, period, fraction (optional)")
	cmd.Flags().Float64("row-start", 0, "First row value")
	cmd.Flags().Float64("row-stop", 1, "Last row value (inclusive)")
	cmd.Flags().Float64("row-step", 0.1, "Row increment")
	_ = cmd.MarkFlagRequired("cols")
	return cmd
}

// customPlan builds a plan from the custom sweep flags.
func customPlan(cmd *cobra.Command, cfg *config.ShrubConfig) (sweep.Plan, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("name")
	colParam, _ := flags.GetString("cols")
	rowParam, _ := flags.GetString("rows")

	colRange := sweep.Range{}
	colRange.Start, _ = flags.GetFloat64("col-start")
	colRange.Stop, _ = flags.GetFloat64("col-stop")
	colRange.Step, _ = flags.GetFloat64("col-step")
	cols, err := sweep.NewAxis(sweep.Param(colParam), colRange)
	if err != nil {
		return sweep.Plan{}, err
	}

	base := cfg.Management
	var rows sweep.Axis
	if rowParam == "" {
		p := fixedParam(cols.Param)
		rows = sweep.FixedAxis(p, baseValue(p, base))
	} else {
		rowRange := sweep.Range{}
		rowRange.Start, _ = flags.GetFloat64("row-start")
		rowRange.Stop, _ = flags.GetFloat64("row-stop")
		rowRange.Step, _ = flags.GetFloat64("row-step")
		rows, err = sweep.NewAxis(sweep.Param(rowParam), rowRange)
		if err != nil {
			return sweep.Plan{}, err
		}
	}

	return sweep.Plan{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Base:  base,
		Steps: cfg.Run.Steps,
		Seed:  cfg.Run.Seed,
	}, nil
}

// fixedParam picks the row parameter of a one-dimensional sweep over p.
func fixedParam(p sweep.Param) sweep.Param {
	if p == sweep.ParamPeriod {
		return sweep.ParamFraction
	}
	return sweep.ParamPeriod
}

// baseValue reads the setting p from m.
func baseValue(p sweep.Param, m model.Management) float64 {
	switch p {
	case sweep.ParamGrazing:
		return m.Grazing
	case sweep.ParamPeriod:
		return float64(m.RemovalPeriod)
	default:
		return m.RemovalFraction
	}
}

// runSweep loads config, builds the plan and runs it with the shared flags.
func runSweep(cmd *cobra.Command, buildPlan func(*config.ShrubConfig) (sweep.Plan, error)) error {
	flags := cmd.Flags()
	jsonOut, _ := flags.GetBool("json")
	noStore, _ := flags.GetBool("no-store")
	mapPath, _ := flags.GetString("map")
	plotPath, _ := flags.GetString("plot")
	arrowPath, _ := flags.GetString("arrow")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flags.Changed("seed") {
		cfg.Run.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("workers") {
		cfg.Sweep.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("timing") {
		v, _ := flags.GetString("timing")
		timing, ok := constants.ParseRemovalTiming(v)
		if !ok {
			return fmt.Errorf("invalid timing: %s (valid: after, before)", v)
		}
		cfg.Management.Timing = timing
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	plan, err := buildPlan(cfg)
	if err != nil {
		return fmt.Errorf("invalid sweep: %w", err)
	}
	plan.Seed = cfg.Run.Seed
	plan.Base.Timing = cfg.Management.Timing
	if flags.Changed("steps") {
		plan.Steps, _ = flags.GetInt("steps")
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid sweep: %w", err)
	}

	if plotPath == "" && cfg.Output.Plots {
		plotPath = "sweep-" + plan.Name + "." + cfg.Output.PlotFormat
	}
	if arrowPath == "" && cfg.Output.Arrow {
		arrowPath = "sweep-" + plan.Name + ".arrow"
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

	runner := &sweep.Runner{
		Params:  cfg.Model,
		Initial: initial,
		Workers: cfg.Sweep.Workers,
		Logger:  logger,
		Events:  events,
	}
	if !jsonOut {
		errW := cmd.ErrOrStderr()
		runner.Progress = func(done, total int) {
			fmt.Fprintf(errW, "\rcells: %d/%d", done, total)
			if done == total {
				fmt.Fprintln(errW)
			}
		}
	}

	var (
		results store.ResultStore
		sweepID string
	)
	if !noStore {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		results = s
		sweepID = store.NewID()
		runner.Sink = &store.SweepSink{Store: s, SweepID: sweepID, Params: cfg.Model}
	}

	surface, err := runner.Run(cmd.Context(), plan)
	if err != nil {
		return fmt.Errorf("sweep %s failed: %w", plan.Name, err)
	}

	if results != nil {
		if _, err := results.SaveSweep(cmd.Context(), store.NewSweepRecord(sweepID, surface)); err != nil {
			return fmt.Errorf("failed to save sweep: %w", err)
		}
	}

	out := newSweepOutput(sweepID, surface)
	if plotPath != "" {
		out.Plot = outputPath(cmd, cfg, plotPath)
		if err := visualization.RenderSurface(out.Plot, surface); err != nil {
			return fmt.Errorf("failed to plot surface: %w", err)
		}
	}
	if arrowPath != "" {
		out.Arrow = outputPath(cmd, cfg, arrowPath)
		if err := export.WriteSurface(out.Arrow, surface); err != nil {
			return fmt.Errorf("failed to export surface: %w", err)
		}
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprint(w, surface.Format())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Controlled: %d  Not controlled: %d", out.Controlled, out.Uncontrolled)
	if out.Guarded > 0 {
		fmt.Fprintf(w, "  (shrub cover reached zero in %d)", out.Guarded)
	}
	fmt.Fprintf(w, "\nElapsed: %s\n", out.Elapsed)
	if out.ID != "" {
		fmt.Fprintf(w, "Sweep ID: %s\n", out.ID)
	}
	if out.Plot != "" {
		fmt.Fprintf(w, "Plot: %s\n", out.Plot)
	}
	if out.Arrow != "" {
		fmt.Fprintf(w, "Arrow: %s\n", out.Arrow)
	}
	return nil
}

func newSweepOutput(id string, s *sweep.Surface) sweepOutput {
	controlled, uncontrolled := s.Counts()
	out := sweepOutput{
		ID:           id,
		Plan:         s.Plan,
		Slopes:       s.Slopes(),
		Controlled:   controlled,
		Uncontrolled: uncontrolled,
		Guarded:      s.Guarded(),
		Elapsed:      s.Elapsed.Round(time.Millisecond).String(),
	}
	for _, row := range s.Outcomes() {
		ints := make([]int, len(row))
		for i, o := range row {
			ints[i] = int(o)
		}
		out.Outcomes = append(out.Outcomes, ints)
	}
	return out
}
