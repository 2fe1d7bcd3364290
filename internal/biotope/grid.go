// Package biotope holds the raster of vegetation states the automaton runs on.
package biotope

import (
	"fmt"
	"math/rand/v2"
)

// State is the vegetation state of a single cell.
type State uint8

const (
	Empty State = 0
	Grass State = 1
	Shrub State = 2
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Grass:
		return "grass"
	case Shrub:
		return "shrub"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the three biotope states.
func (s State) Valid() bool {
	return s <= Shrub
}

// Grid is a row-major raster of cell states.
type Grid struct {
	Width  int
	Height int
	Cells  []State
}

// New creates an all-empty grid.
func New(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Cells:  make([]State, width*height),
	}
}

// Area returns the number of cells.
func (g *Grid) Area() int {
	return g.Width * g.Height
}

// Index returns the row-major offset of (x, y).
func (g *Grid) Index(x, y int) int {
	return y*g.Width + x
}

// At returns the state at column x, row y.
func (g *Grid) At(x, y int) State {
	return g.Cells[g.Index(x, y)]
}

// Set stores s at column x, row y.
func (g *Grid) Set(x, y int, s State) {
	g.Cells[g.Index(x, y)] = s
}

// Fill sets every cell to s.
func (g *Grid) Fill(s State) {
	for i := range g.Cells {
		g.Cells[i] = s
	}
}

// Count returns the number of cells in state s.
func (g *Grid) Count(s State) int {
	n := 0
	for _, c := range g.Cells {
		if c == s {
			n++
		}
	}
	return n
}

// Fraction returns the share of the grid area in state s.
func (g *Grid) Fraction(s State) float64 {
	if g.Area() == 0 {
		return 0
	}
	return float64(g.Count(s)) / float64(g.Area())
}

// Mask returns a boolean raster that is true where the cell is in state s.
func (g *Grid) Mask(s State) []bool {
	mask := make([]bool, len(g.Cells))
	for i, c := range g.Cells {
		mask[i] = c == s
	}
	return mask
}

// NeighbourFraction returns, for every cell, the number of its four
// von Neumann neighbours set in mask divided by four. Neighbours outside the
// grid count as unset, so edge cells reach at most 0.75 and corners 0.5.
func (g *Grid) NeighbourFraction(mask []bool) []float64 {
	out := make([]float64, len(g.Cells))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			total := 0
			if x > 0 && mask[g.Index(x-1, y)] {
				total++
			}
			if x < g.Width-1 && mask[g.Index(x+1, y)] {
				total++
			}
			if y > 0 && mask[g.Index(x, y-1)] {
				total++
			}
			if y < g.Height-1 && mask[g.Index(x, y+1)] {
				total++
			}
			out[g.Index(x, y)] = float64(total) / 4
		}
	}
	return out
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	cells := make([]State, len(g.Cells))
	copy(cells, g.Cells)
	return &Grid{Width: g.Width, Height: g.Height, Cells: cells}
}

// Equal reports whether both grids have the same shape and states.
func (g *Grid) Equal(other *Grid) bool {
	if other == nil || g.Width != other.Width || g.Height != other.Height {
		return false
	}
	for i := range g.Cells {
		if g.Cells[i] != other.Cells[i] {
			return false
		}
	}
	return true
}

// Validate checks the grid shape and that every cell holds a known state.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", g.Width, g.Height)
	}
	if len(g.Cells) != g.Area() {
		return fmt.Errorf("grid has %d cells, want %d", len(g.Cells), g.Area())
	}
	for i, c := range g.Cells {
		if !c.Valid() {
			return fmt.Errorf("cell %d has invalid state %d", i, c)
		}
	}
	return nil
}

// Generate draws a random initial map. Each cell is independently shrub with
// probability shrubFrac, otherwise grass with probability grassFrac, otherwise empty.
func Generate(width, height int, grassFrac, shrubFrac float64, rng *rand.Rand) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", width, height)
	}
	if grassFrac < 0 || shrubFrac < 0 || grassFrac+shrubFrac > 1 {
		return nil, fmt.Errorf("cover fractions must be non-negative and sum to at most 1, got grass=%g shrub=%g", grassFrac, shrubFrac)
	}

	g := New(width, height)
	for i := range g.Cells {
		u := rng.Float64()
		switch {
		case u < shrubFrac:
			g.Cells[i] = Shrub
		case u < shrubFrac+grassFrac:
			g.Cells[i] = Grass
		}
	}
	return g, nil
}
