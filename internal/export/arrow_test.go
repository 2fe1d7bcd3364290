package export

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/sweep"
)

func TestTrajectories_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "runs.arrow")
	series := []Series{
		{
			RunID:  "run-a",
			Sample: 0,
			Trajectory: model.Trajectory{
				Densities: []model.DensityPoint{{Step: 1, Density: 0.5}, {Step: 2, Density: 0.25}},
				Growth:    []float64{math.Log(0.5), math.NaN()},
			},
		},
		{
			RunID:  "run-b",
			Sample: 1,
			Trajectory: model.Trajectory{
				Densities: []model.DensityPoint{{Step: 1, Density: 0.1}},
				Growth:    []float64{0.2},
			},
		},
	}

	require.NoError(t, WriteTrajectories(path, series))

	rows, err := ReadTrajectories(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "run-a", rows[0].Run)
	assert.Equal(t, 1, rows[0].Step)
	assert.Equal(t, 0.5, rows[0].Density)
	assert.InDelta(t, math.Log(0.5), rows[0].Growth, 1e-15)
	assert.True(t, math.IsNaN(rows[1].Growth))
	assert.Equal(t, "run-b", rows[2].Run)
	assert.Equal(t, 1, rows[2].Sample)
	assert.Equal(t, 0.2, rows[2].Growth)
}

func TestTrajectories_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.arrow")
	require.NoError(t, WriteTrajectories(path, nil))

	rows, err := ReadTrajectories(path)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadTrajectories_Missing(t *testing.T) {
	_, err := ReadTrajectories(filepath.Join(t.TempDir(), "nope.arrow"))
	assert.Error(t, err)
}

func TestWriteSurface(t *testing.T) {
	g := biotope.New(4, 4)
	g.Fill(biotope.Shrub)
	plan := sweep.Plan{
		Name:  "removal",
		Rows:  sweep.Axis{Param: sweep.ParamPeriod, Values: []float64{1, 2}},
		Cols:  sweep.Axis{Param: sweep.ParamFraction, Values: []float64{0, 1}},
		Steps: 3,
		Seed:  5,
	}
	surface, err := (&sweep.Runner{Initial: g}).Run(context.Background(), plan)
	require.NoError(t, err)
	surface.Cells[0][0].RunID = "first"

	path := filepath.Join(t.TempDir(), "surface.arrow")
	require.NoError(t, WriteSurface(path, surface))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := ipc.NewFileReader(f)
	require.NoError(t, err)
	defer r.Close()

	md := r.Schema().Metadata()
	idx := md.FindKey("row_param")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "period", md.Values()[idx])

	require.Equal(t, 1, r.NumRecords())
	rec, err := r.Record(0)
	require.NoError(t, err)
	require.EqualValues(t, 4, rec.NumRows())

	slope := rec.Column(2).(*array.Float64)
	outcome := rec.Column(3).(*array.Int8)
	guarded := rec.Column(4).(*array.Boolean)
	run := rec.Column(5).(*array.String)

	assert.InDelta(t, 0, slope.Value(0), 1e-12)
	assert.Equal(t, -1.0, slope.Value(1))
	assert.True(t, guarded.Value(1))
	assert.False(t, guarded.Value(0))
	assert.Equal(t, int8(0), outcome.Value(3))
	assert.Equal(t, "first", run.Value(0))
	assert.True(t, run.IsNull(1))
}
