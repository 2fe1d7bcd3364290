// Package export writes run trajectories and sweep surfaces as Arrow IPC
// files for analysis outside the tool.
package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/sweep"
)

// Series is one trajectory to export.
type Series struct {
	RunID      string
	Sample     int
	Trajectory model.Trajectory
}

// Row is one timestep read back from a trajectory file.
type Row struct {
	Run     string
	Sample  int
	Step    int
	Density float64
	Growth  float64 // NaN when null
}

var trajectorySchema = arrow.NewSchema([]arrow.Field{
	{Name: "run", Type: arrow.BinaryTypes.String},
	{Name: "sample", Type: arrow.PrimitiveTypes.Int32},
	{Name: "step", Type: arrow.PrimitiveTypes.Int32},
	{Name: "density", Type: arrow.PrimitiveTypes.Float64},
	{Name: "growth", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// WriteTrajectories writes every series as rows of a single record batch.
func WriteTrajectories(path string, series []Series) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, trajectorySchema)
	defer b.Release()

	run := b.Field(0).(*array.StringBuilder)
	sample := b.Field(1).(*array.Int32Builder)
	step := b.Field(2).(*array.Int32Builder)
	density := b.Field(3).(*array.Float64Builder)
	growthB := b.Field(4).(*array.Float64Builder)

	for _, s := range series {
		for i, d := range s.Trajectory.Densities {
			run.Append(s.RunID)
			sample.Append(int32(s.Sample))
			step.Append(int32(d.Step))
			density.Append(d.Density)

			g := math.NaN()
			if i < len(s.Trajectory.Growth) {
				g = s.Trajectory.Growth[i]
			}
			if math.IsNaN(g) || math.IsInf(g, 0) {
				growthB.AppendNull()
			} else {
				growthB.Append(g)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeRecord(path, trajectorySchema, rec, mem)
}

// ReadTrajectories reads a file written by WriteTrajectories.
func ReadTrajectories(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening arrow file: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("creating arrow reader: %w", err)
	}
	defer r.Close()

	if !r.Schema().Equal(trajectorySchema) {
		return nil, fmt.Errorf("unexpected schema: %s", r.Schema())
	}

	var rows []Row
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading record %d: %w", i, err)
		}
		run := rec.Column(0).(*array.String)
		sample := rec.Column(1).(*array.Int32)
		step := rec.Column(2).(*array.Int32)
		density := rec.Column(3).(*array.Float64)
		growthCol := rec.Column(4).(*array.Float64)

		for j := 0; j < int(rec.NumRows()); j++ {
			row := Row{
				Run:     run.Value(j),
				Sample:  int(sample.Value(j)),
				Step:    int(step.Value(j)),
				Density: density.Value(j),
				Growth:  math.NaN(),
			}
			if growthCol.IsValid(j) {
				row.Growth = growthCol.Value(j)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// WriteSurface writes one row per sweep cell. The axis parameters are kept
// in the schema metadata.
func WriteSurface(path string, s *sweep.Surface) error {
	md := arrow.NewMetadata(
		[]string{"plan", "row_param", "col_param", "steps", "seed"},
		[]string{
			s.Plan.Name,
			string(s.Plan.Rows.Param),
			string(s.Plan.Cols.Param),
			fmt.Sprintf("%d", s.Plan.Steps),
			fmt.Sprintf("%d", s.Plan.Seed),
		},
	)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "row_value", Type: arrow.PrimitiveTypes.Float64},
		{Name: "col_value", Type: arrow.PrimitiveTypes.Float64},
		{Name: "slope", Type: arrow.PrimitiveTypes.Float64},
		{Name: "outcome", Type: arrow.PrimitiveTypes.Int8},
		{Name: "guarded", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "run", Type: arrow.BinaryTypes.String, Nullable: true},
	}, &md)

	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	rowValue := b.Field(0).(*array.Float64Builder)
	colValue := b.Field(1).(*array.Float64Builder)
	slope := b.Field(2).(*array.Float64Builder)
	outcome := b.Field(3).(*array.Int8Builder)
	guarded := b.Field(4).(*array.BooleanBuilder)
	run := b.Field(5).(*array.StringBuilder)

	for _, row := range s.Cells {
		for _, c := range row {
			rowValue.Append(c.RowValue)
			colValue.Append(c.ColValue)
			slope.Append(c.Fit.Slope)
			outcome.Append(int8(c.Outcome))
			guarded.Append(c.Fit.Guarded)
			if c.RunID == "" {
				run.AppendNull()
			} else {
				run.Append(c.RunID)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeRecord(path, schema, rec, mem)
}

func writeRecord(path string, schema *arrow.Schema, rec arrow.Record, mem memory.Allocator) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating arrow file: %w", err)
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing arrow writer: %w", err)
	}
	return f.Close()
}
