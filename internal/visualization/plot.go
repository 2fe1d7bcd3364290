// Package visualization renders sweep surfaces, density curves and biotope
// maps with gonum/plot. The output format follows the file extension
// (.png, .svg, .pdf, .eps, .jpg, .tif).
package visualization

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/sweep"
)

// Default figure size.
const (
	DefaultWidth  = 6 * vg.Inch
	DefaultHeight = 5 * vg.Inch
)

var supportedFormats = map[string]bool{
	".png": true, ".svg": true, ".pdf": true, ".eps": true,
	".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true,
}

// CheckFormat returns an error if path has an unsupported extension.
func CheckFormat(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedFormats[ext] {
		return fmt.Errorf("unsupported plot format %q (valid: png, svg, pdf, eps, jpg, tif)", ext)
	}
	return nil
}

// Curve is a named density series for RenderDensity.
type Curve struct {
	Label      string
	Trajectory model.Trajectory
}

// RenderSurface draws the controlled/uncontrolled surface of a sweep:
// black is controlled, white is uncontrolled. A single-row sweep is drawn
// as slope against the column parameter instead.
func RenderSurface(path string, s *sweep.Surface) error {
	if err := CheckFormat(path); err != nil {
		return err
	}
	rows, cols := s.Plan.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("surface is empty")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Shrub expansion (%s)", s.Plan.Name)
	p.X.Label.Text = s.Plan.Cols.Param.Label()

	if rows == 1 || cols == 1 {
		if err := addSlopeLine(p, s); err != nil {
			return err
		}
	} else {
		p.Y.Label.Text = s.Plan.Rows.Param.Label()
		hm := plotter.NewHeatMap(surfaceGrid{s}, outcomePalette{})
		hm.Min = float64(growth.Controlled)
		hm.Max = float64(growth.Uncontrolled)
		p.Add(hm)
	}

	return save(p, path)
}

// addSlopeLine plots fitted slopes along the longer axis with a zero line.
func addSlopeLine(p *plot.Plot, s *sweep.Surface) error {
	var pts plotter.XYs
	axis := s.Plan.Cols
	for _, row := range s.Cells {
		for _, c := range row {
			x := c.ColValue
			if len(s.Plan.Cols.Values) == 1 {
				x = c.RowValue
			}
			pts = append(pts, plotter.XY{X: x, Y: c.Fit.Slope})
		}
	}
	if len(s.Plan.Cols.Values) == 1 {
		axis = s.Plan.Rows
	}
	p.X.Label.Text = axis.Param.Label()
	p.Y.Label.Text = "slope of shrub growth"

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("building slope line: %w", err)
	}
	line.Color = plotutil.Color(0)
	points.Color = plotutil.Color(0)
	p.Add(line, points, plotter.NewFunction(func(float64) float64 { return 0 }))
	return nil
}

// RenderDensity draws shrub density against time on log-log axes, the
// representation in which the growth slope is fitted. Non-positive densities
// cannot be placed on a log axis and are skipped.
func RenderDensity(path string, curves []Curve) error {
	if err := CheckFormat(path); err != nil {
		return err
	}
	if len(curves) == 0 {
		return fmt.Errorf("no density curves to plot")
	}

	p := plot.New()
	p.Title.Text = "Shrub density"
	p.X.Label.Text = "timestep"
	p.Y.Label.Text = "shrub density"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	plotted := 0
	for i, c := range curves {
		var pts plotter.XYs
		for _, d := range c.Trajectory.Densities {
			if d.Step > 0 && d.Density > 0 {
				pts = append(pts, plotter.XY{X: float64(d.Step), Y: d.Density})
			}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("building curve %q: %w", c.Label, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(1)
		p.Add(line)
		if c.Label != "" {
			p.Legend.Add(c.Label, line)
		}
		plotted++
	}
	if plotted == 0 {
		return fmt.Errorf("every density series is zero; nothing to plot on log axes")
	}
	p.Legend.Top = true

	return save(p, path)
}

// RenderGrid draws a biotope map with north at the top.
func RenderGrid(path string, g *biotope.Grid) error {
	if err := CheckFormat(path); err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Biotope (shrub %.1f%%, grass %.1f%%)",
		100*g.Fraction(biotope.Shrub), 100*g.Fraction(biotope.Grass))
	p.HideAxes()

	hm := plotter.NewHeatMap(biotopeGrid{g}, statePalette{})
	hm.Min = float64(biotope.Empty)
	hm.Max = float64(biotope.Shrub)
	p.Add(hm)

	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := p.Save(DefaultWidth, DefaultHeight, path); err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	return nil
}

// surfaceGrid adapts a sweep surface to plotter.GridXYZ.
type surfaceGrid struct{ s *sweep.Surface }

func (g surfaceGrid) Dims() (c, r int) {
	rows, cols := g.s.Plan.Dims()
	return cols, rows
}
func (g surfaceGrid) Z(c, r int) float64 { return float64(g.s.Cells[r][c].Outcome) }
func (g surfaceGrid) X(c int) float64    { return g.s.Plan.Cols.Values[c] }
func (g surfaceGrid) Y(r int) float64    { return g.s.Plan.Rows.Values[r] }

// biotopeGrid adapts a biotope grid to plotter.GridXYZ. Plot rows grow
// upwards, so raster row 0 is drawn last.
type biotopeGrid struct{ g *biotope.Grid }

func (b biotopeGrid) Dims() (c, r int)   { return b.g.Width, b.g.Height }
func (b biotopeGrid) Z(c, r int) float64 { return float64(b.g.At(c, b.g.Height-1-r)) }
func (b biotopeGrid) X(c int) float64    { return float64(c) }
func (b biotopeGrid) Y(r int) float64    { return float64(r) }

type outcomePalette struct{}

func (outcomePalette) Colors() []color.Color {
	return []color.Color{color.Black, color.White}
}

type statePalette struct{}

func (statePalette) Colors() []color.Color {
	return []color.Color{
		color.RGBA{R: 0xd9, G: 0xc7, B: 0xa0, A: 0xff}, // empty: bare soil
		color.RGBA{R: 0x9c, G: 0xcc, B: 0x65, A: 0xff}, // grass
		color.RGBA{R: 0x33, G: 0x55, B: 0x22, A: 0xff}, // shrub
	}
}
