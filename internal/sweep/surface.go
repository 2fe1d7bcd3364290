package sweep

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/model"
)

// Cell is the result of one regime in a sweep.
type Cell struct {
	Row        int              `json:"row"`
	Col        int              `json:"col"`
	RowValue   float64          `json:"row_value"`
	ColValue   float64          `json:"col_value"`
	Management model.Management `json:"management"`
	Seed       uint64           `json:"seed"`
	Stream     uint64           `json:"stream"`
	Fit        growth.Fit       `json:"fit"`
	Outcome    growth.Outcome   `json:"outcome"`
	RunID      string           `json:"run_id,omitempty"`
	Trajectory model.Trajectory `json:"-"`
}

// Surface is the classified outcome of a sweep, indexed [row][col].
type Surface struct {
	Plan      Plan          `json:"plan"`
	Cells     [][]Cell      `json:"cells"`
	CreatedAt time.Time     `json:"created_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

func newSurface(plan Plan) *Surface {
	rows, cols := plan.Dims()
	cells := make([][]Cell, rows)
	for i := range cells {
		cells[i] = make([]Cell, cols)
	}
	return &Surface{Plan: plan, Cells: cells, CreatedAt: time.Now()}
}

// Slopes returns the fitted slopes.
func (s *Surface) Slopes() [][]float64 {
	out := make([][]float64, len(s.Cells))
	for i, row := range s.Cells {
		out[i] = make([]float64, len(row))
		for j, c := range row {
			out[i][j] = c.Fit.Slope
		}
	}
	return out
}

// Outcomes returns the 0/1 classification.
func (s *Surface) Outcomes() [][]growth.Outcome {
	out := make([][]growth.Outcome, len(s.Cells))
	for i, row := range s.Cells {
		out[i] = make([]growth.Outcome, len(row))
		for j, c := range row {
			out[i][j] = c.Outcome
		}
	}
	return out
}

// Counts returns how many cells are controlled and uncontrolled.
func (s *Surface) Counts() (controlled, uncontrolled int) {
	for _, row := range s.Cells {
		for _, c := range row {
			if c.Outcome == growth.Uncontrolled {
				uncontrolled++
			} else {
				controlled++
			}
		}
	}
	return controlled, uncontrolled
}

// Guarded returns the number of cells whose density reached zero.
func (s *Surface) Guarded() int {
	n := 0
	for _, row := range s.Cells {
		for _, c := range row {
			if c.Fit.Guarded {
				n++
			}
		}
	}
	return n
}

// Format renders the slope matrix and the classification matrix as text.
func (s *Surface) Format() string {
	var b strings.Builder
	rowsP, colsP := s.Plan.Rows.Param, s.Plan.Cols.Param

	fmt.Fprintf(&b, "Slope of shrub growth (rows: %s, cols: %s)\n", rowsP.Label(), colsP.Label())
	s.writeMatrix(&b, func(c Cell) string { return fmt.Sprintf("%.4f", c.Fit.Slope) })

	b.WriteString("\nShrub expansion: 0 = controlled, 1 = not controlled\n")
	s.writeMatrix(&b, func(c Cell) string { return fmt.Sprintf("%d", int(c.Outcome)) })

	return b.String()
}

func (s *Surface) writeMatrix(b *strings.Builder, cellText func(Cell) string) {
	tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{""}
	for _, v := range s.Plan.Cols.Values {
		header = append(header, s.Plan.Cols.Param.FormatValue(v))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	for i, row := range s.Cells {
		fields := []string{s.Plan.Rows.Param.FormatValue(s.Plan.Rows.Values[i])}
		for _, c := range row {
			fields = append(fields, cellText(c))
		}
		fmt.Fprintln(tw, strings.Join(fields, "\t")+"\t")
	}
	tw.Flush()
}
