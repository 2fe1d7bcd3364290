// Package store persists run and sweep results.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/sweep"
)

// ErrNotFound is returned when a run or sweep ID does not exist.
var ErrNotFound = errors.New("not found")

// RunKind records how a run was produced.
type RunKind string

const (
	KindSingle   RunKind = "single"
	KindSweep    RunKind = "sweep"
	KindEnsemble RunKind = "ensemble"
)

// Valid returns true if the kind is a recognized value.
func (k RunKind) Valid() bool {
	switch k {
	case KindSingle, KindSweep, KindEnsemble:
		return true
	}
	return false
}

// DensityRecord is one timestep of a stored trajectory.
type DensityRecord struct {
	Step    int     `json:"step"`
	Density float64 `json:"density"`
	Growth  float64 `json:"growth"` // NaN when undefined
}

// RunRecord is a stored model run.
type RunRecord struct {
	ID           string           `json:"id"`
	Kind         RunKind          `json:"kind"`
	SweepID      string           `json:"sweep_id,omitempty"`
	Sample       int              `json:"sample"`
	Params       model.Params     `json:"params"`
	Management   model.Management `json:"management"`
	Seed         uint64           `json:"seed"`
	Stream       uint64           `json:"stream"`
	Steps        int              `json:"steps"`
	Width        int              `json:"width"`
	Height       int              `json:"height"`
	Fit          growth.Fit       `json:"fit"`
	Outcome      growth.Outcome   `json:"outcome"`
	FinalDensity float64          `json:"final_density"`
	Removals     int              `json:"removals"`
	CreatedAt    time.Time        `json:"created_at"`

	// Densities is written by SaveRun; GetRun leaves it empty, use
	// ResultStore.Densities.
	Densities []DensityRecord `json:"densities,omitempty"`
}

// NewRunRecord builds a record from a finished trajectory. The ID is left
// empty for the store to assign.
func NewRunRecord(kind RunKind, params model.Params, mgmt model.Management, seed, stream uint64, traj model.Trajectory, fit growth.Fit) RunRecord {
	rec := RunRecord{
		Kind:         kind,
		Params:       params,
		Management:   mgmt,
		Seed:         seed,
		Stream:       stream,
		Steps:        len(traj.Densities),
		Fit:          fit,
		Outcome:      fit.Outcome(),
		FinalDensity: traj.FinalDensity(),
		Removals:     len(traj.Removals),
		Densities:    make([]DensityRecord, len(traj.Densities)),
	}
	if traj.Final != nil {
		rec.Width, rec.Height = traj.Final.Width, traj.Final.Height
	}
	for i, d := range traj.Densities {
		rec.Densities[i] = DensityRecord{Step: d.Step, Density: d.Density, Growth: traj.Growth[i]}
	}
	return rec
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Kind    RunKind
	SweepID string
	Outcome *growth.Outcome
	Limit   int
}

// SweepCellRecord is one cell of a stored sweep.
type SweepCellRecord struct {
	Row      int            `json:"row"`
	Col      int            `json:"col"`
	RowValue float64        `json:"row_value"`
	ColValue float64        `json:"col_value"`
	Fit      growth.Fit     `json:"fit"`
	Outcome  growth.Outcome `json:"outcome"`
	RunID    string         `json:"run_id,omitempty"`
}

// SweepRecord is a stored sweep surface.
type SweepRecord struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	RowParam     sweep.Param       `json:"row_param"`
	ColParam     sweep.Param       `json:"col_param"`
	RowValues    []float64         `json:"row_values"`
	ColValues    []float64         `json:"col_values"`
	Base         model.Management  `json:"base"`
	Steps        int               `json:"steps"`
	Seed         uint64            `json:"seed"`
	Controlled   int               `json:"controlled"`
	Uncontrolled int               `json:"uncontrolled"`
	Elapsed      time.Duration     `json:"elapsed"`
	CreatedAt    time.Time         `json:"created_at"`
	Cells        []SweepCellRecord `json:"cells,omitempty"`
}

// NewSweepRecord flattens a surface into a record. id may be empty.
func NewSweepRecord(id string, s *sweep.Surface) SweepRecord {
	controlled, uncontrolled := s.Counts()
	rec := SweepRecord{
		ID:           id,
		Name:         s.Plan.Name,
		RowParam:     s.Plan.Rows.Param,
		ColParam:     s.Plan.Cols.Param,
		RowValues:    s.Plan.Rows.Values,
		ColValues:    s.Plan.Cols.Values,
		Base:         s.Plan.Base,
		Steps:        s.Plan.Steps,
		Seed:         s.Plan.Seed,
		Controlled:   controlled,
		Uncontrolled: uncontrolled,
		Elapsed:      s.Elapsed,
		CreatedAt:    s.CreatedAt,
	}
	for _, row := range s.Cells {
		for _, c := range row {
			rec.Cells = append(rec.Cells, SweepCellRecord{
				Row:      c.Row,
				Col:      c.Col,
				RowValue: c.RowValue,
				ColValue: c.ColValue,
				Fit:      c.Fit,
				Outcome:  c.Outcome,
				RunID:    c.RunID,
			})
		}
	}
	return rec
}

// ResultStore persists runs and sweeps.
type ResultStore interface {
	// SaveRun stores rec and its densities, assigning an ID if rec.ID is
	// empty. It returns the ID.
	SaveRun(ctx context.Context, rec RunRecord) (string, error)
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)
	Densities(ctx context.Context, runID string) ([]DensityRecord, error)

	SaveSweep(ctx context.Context, rec SweepRecord) (string, error)
	// GetSweep returns the sweep with its cells.
	GetSweep(ctx context.Context, id string) (*SweepRecord, error)
	// ListSweeps returns sweeps newest first, without cells.
	ListSweeps(ctx context.Context, limit int) ([]SweepRecord, error)

	Close() error
}

// NewID returns a fresh record ID.
func NewID() string {
	return uuid.NewString()
}

// SweepSink records every sweep cell as a run tied to SweepID. It is safe
// for concurrent use when Store is.
type SweepSink struct {
	Store   ResultStore
	SweepID string
	Params  model.Params
}

// RecordCell implements sweep.Sink.
func (s *SweepSink) RecordCell(ctx context.Context, plan sweep.Plan, cell sweep.Cell) (string, error) {
	rec := NewRunRecord(KindSweep, s.Params, cell.Management, cell.Seed, cell.Stream, cell.Trajectory, cell.Fit)
	rec.SweepID = s.SweepID
	return s.Store.SaveRun(ctx, rec)
}

// matches reports whether rec passes f.
func (f RunFilter) matches(rec RunRecord) bool {
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if f.SweepID != "" && rec.SweepID != f.SweepID {
		return false
	}
	if f.Outcome != nil && rec.Outcome != *f.Outcome {
		return false
	}
	return true
}
