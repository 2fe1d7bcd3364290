package main

import (
	"errors"
	"fmt"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/store"
	"github.com/nvandessel/shrubmanage/internal/sweep"
)

// densityOutput is a DensityRecord with undefined growth left out.
type densityOutput struct {
	Step    int      `json:"step"`
	Density float64  `json:"density"`
	Growth  *float64 `json:"growth,omitempty"`
}

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Query stored runs and sweeps",
		Long: `Query the results store in .shrubmanage/results.db.

Examples:
  shrubmanage results list                       # recent runs
  shrubmanage results list --kind sweep --outcome uncontrolled
  shrubmanage results list --sweeps              # recent sweeps
  shrubmanage results show <id>                  # run or sweep details`,
	}

	cmd.AddCommand(
		newResultsListCmd(),
		newResultsShowCmd(),
	)

	return cmd
}

func newResultsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs or sweeps, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			sweeps, _ := cmd.Flags().GetBool("sweeps")
			kind, _ := cmd.Flags().GetString("kind")
			sweepID, _ := cmd.Flags().GetString("sweep")
			outcome, _ := cmd.Flags().GetString("outcome")
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			w := cmd.OutOrStdout()

			if sweeps {
				recs, err := s.ListSweeps(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("failed to list sweeps: %w", err)
				}
				if jsonOut {
					return writeJSON(w, map[string]any{"sweeps": recs, "count": len(recs)})
				}
				if len(recs) == 0 {
					fmt.Fprintln(w, "No sweeps stored.")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tROWS x COLS\tSTEPS\tCONTROLLED\tNOT CONTROLLED\tCREATED")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s(%d) x %s(%d)\t%d\t%d\t%d\t%s\n",
						r.ID, r.Name, r.RowParam, len(r.RowValues), r.ColParam, len(r.ColValues),
						r.Steps, r.Controlled, r.Uncontrolled, r.CreatedAt.Local().Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			}

			filter := store.RunFilter{Kind: store.RunKind(kind), SweepID: sweepID, Limit: limit}
			if kind != "" && !filter.Kind.Valid() {
				return fmt.Errorf("invalid kind: %s (valid: single, sweep, ensemble)", kind)
			}
			if outcome != "" {
				o, err := growth.ParseOutcome(outcome)
				if err != nil {
					return fmt.Errorf("invalid outcome: %s (valid: controlled, uncontrolled)", outcome)
				}
				filter.Outcome = &o
			}

			recs, err := s.ListRuns(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if jsonOut {
				return writeJSON(w, map[string]any{"runs": recs, "count": len(recs)})
			}
			if len(recs) == 0 {
				fmt.Fprintln(w, "No runs stored.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tREGIME\tSTEPS\tSLOPE\tOUTCOME\tCREATED")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.4f\t%s\t%s\n",
					r.ID, r.Kind, r.Management.String(), r.Steps, r.Fit.Slope, r.Outcome,
					r.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Bool("sweeps", false, "List sweeps instead of runs")
	cmd.Flags().String("kind", "", "Filter runs by kind: single, sweep, ensemble")
	cmd.Flags().String("sweep", "", "Filter runs by sweep ID")
	cmd.Flags().String("outcome", "", "Filter runs by outcome: controlled, uncontrolled")
	cmd.Flags().Int("limit", 20, "Maximum number of entries (0 for all)")

	return cmd
}

func newResultsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored run with its density series, or a stored sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			id := args[0]

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), id)
			switch {
			case err == nil:
				return showRun(cmd, s, run, jsonOut)
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("failed to load run: %w", err)
			}

			sw, err := s.GetSweep(cmd.Context(), id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no run or sweep with ID %s", id)
				}
				return fmt.Errorf("failed to load sweep: %w", err)
			}
			return showSweep(cmd, sw, jsonOut)
		},
	}
}

func showRun(cmd *cobra.Command, s store.ResultStore, run *store.RunRecord, jsonOut bool) error {
	densities, err := s.Densities(cmd.Context(), run.ID)
	if err != nil {
		return fmt.Errorf("failed to load densities: %w", err)
	}
	series := make([]densityOutput, len(densities))
	for i, d := range densities {
		series[i] = densityOutput{Step: d.Step, Density: d.Density}
		if !math.IsNaN(d.Growth) {
			g := d.Growth
			series[i].Growth = &g
		}
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(w, map[string]any{"run": run, "densities": series})
	}

	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, run.Kind)
	if run.SweepID != "" {
		fmt.Fprintf(w, "  Sweep:          %s\n", run.SweepID)
	}
	if run.Kind == store.KindEnsemble {
		fmt.Fprintf(w, "  Sample:         %d\n", run.Sample)
	}
	fmt.Fprintf(w, "  Regime:         %s timing=%s\n", run.Management.String(), run.Management.Timing)
	fmt.Fprintf(w, "  Grid:           %dx%d\n", run.Width, run.Height)
	fmt.Fprintf(w, "  Seed/stream:    %d/%d\n", run.Seed, run.Stream)
	fmt.Fprintf(w, "  Steps:          %d\n", run.Steps)
	fmt.Fprintf(w, "  Slope:          %.4f", run.Fit.Slope)
	if run.Fit.Guarded {
		fmt.Fprint(w, " (shrub cover reached zero)")
	}
	fmt.Fprintf(w, "\n  Outcome:        %s\n", run.Outcome)
	fmt.Fprintf(w, "  Final density:  %.4f\n", run.FinalDensity)
	fmt.Fprintf(w, "  Removal events: %d\n", run.Removals)
	fmt.Fprintf(w, "  Created:        %s\n\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "step\tdensity\tgrowth\t")
	for _, d := range series {
		g := "-"
		if d.Growth != nil {
			g = fmt.Sprintf("%.4f", *d.Growth)
		}
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t\n", d.Step, d.Density, g)
	}
	return tw.Flush()
}

func showSweep(cmd *cobra.Command, rec *store.SweepRecord, jsonOut bool) error {
	w := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(w, rec)
	}

	fmt.Fprintf(w, "Sweep %s (%s)\n", rec.ID, rec.Name)
	fmt.Fprintf(w, "  Rows:     %s\n", rec.RowParam.Label())
	fmt.Fprintf(w, "  Cols:     %s\n", rec.ColParam.Label())
	fmt.Fprintf(w, "  Base:     %s timing=%s\n", rec.Base.String(), rec.Base.Timing)
	fmt.Fprintf(w, "  Steps:    %d  Seed: %d\n", rec.Steps, rec.Seed)
	fmt.Fprintf(w, "  Result:   %d controlled, %d not controlled\n", rec.Controlled, rec.Uncontrolled)
	fmt.Fprintf(w, "  Elapsed:  %s\n", rec.Elapsed)
	fmt.Fprintf(w, "  Created:  %s\n\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	fmt.Fprint(w, sweepRecordSurface(rec).Format())
	return nil
}

// sweepRecordSurface rebuilds a surface from a stored sweep for display.
func sweepRecordSurface(rec *store.SweepRecord) *sweep.Surface {
	plan := sweep.Plan{
		Name:  rec.Name,
		Rows:  sweep.Axis{Param: rec.RowParam, Values: rec.RowValues},
		Cols:  sweep.Axis{Param: rec.ColParam, Values: rec.ColValues},
		Base:  rec.Base,
		Steps: rec.Steps,
		Seed:  rec.Seed,
	}
	cells := make([][]sweep.Cell, len(rec.RowValues))
	for i := range cells {
		cells[i] = make([]sweep.Cell, len(rec.ColValues))
	}
	for _, c := range rec.Cells {
		if c.Row < len(cells) && c.Col < len(rec.ColValues) {
			cells[c.Row][c.Col] = sweep.Cell{
				Row: c.Row, Col: c.Col, RowValue: c.RowValue, ColValue: c.ColValue,
				Fit: c.Fit, Outcome: c.Outcome, RunID: c.RunID,
			}
		}
	}
	return &sweep.Surface{Plan: plan, Cells: cells, CreatedAt: rec.CreatedAt, Elapsed: rec.Elapsed}
}
