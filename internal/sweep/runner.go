package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/logging"
	"github.com/nvandessel/shrubmanage/internal/model"
)

// Sink receives every finished cell, e.g. to persist it. Implementations
// must be safe for concurrent use when the runner has more than one worker.
// The returned ID is stored on the cell.
type Sink interface {
	RecordCell(ctx context.Context, plan Plan, cell Cell) (string, error)
}

// Runner executes sweep plans.
type Runner struct {
	Params  model.Params
	Initial *biotope.Grid

	// Workers bounds the number of cells run at once. Values < 1 mean 1.
	Workers int

	Logger *slog.Logger
	Events *logging.RunLogger
	Sink   Sink

	// Progress, if set, is called after each finished cell.
	Progress func(done, total int)
}

// Run executes every cell of plan. Each cell draws from its own random
// stream, derived from the plan seed and the cell index, so the surface does
// not depend on the worker count. On error the partially filled surface is
// returned together with the first error.
func (r *Runner) Run(ctx context.Context, plan Plan) (*Surface, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if r.Initial == nil {
		return nil, fmt.Errorf("initial grid is required")
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	rows, cols := plan.Dims()
	total := rows * cols
	surface := newSurface(plan)

	logger.Info("sweep started", "plan", plan.Name, "rows", rows, "cols", cols, "steps", plan.Steps, "workers", workers)

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

loop:
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if gctx.Err() != nil {
				break loop
			}
			g.Go(func() error {
				cell, err := r.runCell(gctx, plan, row, col, logger)
				if err != nil {
					return fmt.Errorf("cell (%d,%d) %s: %w", row, col, plan.Management(row, col), err)
				}
				surface.Cells[row][col] = cell

				mu.Lock()
				done++
				n := done
				if r.Progress != nil {
					r.Progress(n, total)
				}
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return surface, err
	}
	if err := ctx.Err(); err != nil {
		return surface, err
	}

	surface.Elapsed = time.Since(surface.CreatedAt)
	controlled, uncontrolled := surface.Counts()
	logger.Info("sweep complete",
		"plan", plan.Name,
		"controlled", controlled,
		"uncontrolled", uncontrolled,
		"elapsed", surface.Elapsed.Round(time.Millisecond))
	r.Events.Event(logging.EventSweepComplete, map[string]any{
		"plan":         plan.Name,
		"cells":        total,
		"controlled":   controlled,
		"uncontrolled": uncontrolled,
	})

	return surface, nil
}

// runCell runs one regime and fits its density series.
func (r *Runner) runCell(ctx context.Context, plan Plan, row, col int, logger *slog.Logger) (Cell, error) {
	mgmt := plan.Management(row, col)
	stream := uint64(plan.CellIndex(row, col))
	rng := rand.New(rand.NewPCG(plan.Seed, stream))

	m, err := model.New(r.Initial, r.Params, mgmt, rng, model.WithLogger(logger))
	if err != nil {
		return Cell{}, err
	}
	traj, err := m.Run(ctx, plan.Steps, nil)
	if err != nil {
		return Cell{}, err
	}

	fit, err := growth.FitPowerLaw(traj.Steps(), traj.DensityValues())
	if err != nil {
		return Cell{}, fmt.Errorf("fitting growth: %w", err)
	}

	cell := Cell{
		Row:        row,
		Col:        col,
		RowValue:   plan.Rows.Values[row],
		ColValue:   plan.Cols.Values[col],
		Management: mgmt,
		Seed:       plan.Seed,
		Stream:     stream,
		Fit:        fit,
		Outcome:    fit.Outcome(),
		Trajectory: traj,
	}

	if r.Sink != nil {
		id, err := r.Sink.RecordCell(ctx, plan, cell)
		if err != nil {
			return Cell{}, fmt.Errorf("recording cell: %w", err)
		}
		cell.RunID = id
	}

	logger.Debug("sweep cell",
		"row", row,
		"col", col,
		"management", mgmt.String(),
		"slope", fit.Slope,
		"guarded", fit.Guarded,
		"outcome", cell.Outcome.String())
	r.Events.Event(logging.EventSweepCell, map[string]any{
		"plan":     plan.Name,
		"run_id":   cell.RunID,
		"row":      row,
		"col":      col,
		"grazing":  mgmt.Grazing,
		"period":   mgmt.RemovalPeriod,
		"fraction": mgmt.RemovalFraction,
		"slope":    fit.Slope,
		"guarded":  fit.Guarded,
		"outcome":  cell.Outcome.String(),
	})

	return cell, nil
}
