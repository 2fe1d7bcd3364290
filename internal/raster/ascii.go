// Package raster reads and writes biotope maps as ESRI ASCII grids and
// records per-step snapshot stacks of a run.
package raster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/shrubmanage/internal/biotope"
)

// ErrUnknownFormat is returned when a file is neither an ASCII grid nor a
// snapshot stack.
var ErrUnknownFormat = errors.New("unrecognized raster format")

// DefaultNoData is written as NODATA_value.
const DefaultNoData = -9999

// Header is the georeferencing block of an ASCII grid.
type Header struct {
	XLLCorner float64
	YLLCorner float64
	CellSize  float64
	NoData    float64
}

// DefaultHeader places the map at the origin with unit cells.
func DefaultHeader() Header {
	return Header{CellSize: 1, NoData: DefaultNoData}
}

// ReadASCII parses an ESRI ASCII grid. Cell values must be 0 (empty),
// 1 (grass) or 2 (shrub); NODATA cells are rejected since the automaton has
// no notion of a missing cell.
func ReadASCII(r io.Reader) (*biotope.Grid, Header, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	h := Header{CellSize: 1, NoData: DefaultNoData}
	var (
		ncols, nrows int
		first        string
		haveFirst    bool
	)

	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first, haveFirst = key, true
			break
		}
		if !sc.Scan() {
			return nil, h, fmt.Errorf("header key %q has no value", key)
		}
		val := sc.Text()
		var err error
		switch key {
		case "ncols":
			ncols, err = strconv.Atoi(val)
		case "nrows":
			nrows, err = strconv.Atoi(val)
		case "xllcorner", "xllcenter":
			h.XLLCorner, err = strconv.ParseFloat(val, 64)
		case "yllcorner", "yllcenter":
			h.YLLCorner, err = strconv.ParseFloat(val, 64)
		case "cellsize":
			h.CellSize, err = strconv.ParseFloat(val, 64)
		case "nodata_value":
			h.NoData, err = strconv.ParseFloat(val, 64)
		default:
			return nil, h, fmt.Errorf("unknown header key %q", key)
		}
		if err != nil {
			return nil, h, fmt.Errorf("parsing %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, h, fmt.Errorf("reading grid: %w", err)
	}
	if ncols <= 0 || nrows <= 0 {
		return nil, h, fmt.Errorf("ncols and nrows must be positive, got %dx%d", ncols, nrows)
	}

	g := biotope.New(ncols, nrows)
	next := func() (string, bool) {
		if haveFirst {
			haveFirst = false
			return first, true
		}
		if sc.Scan() {
			return sc.Text(), true
		}
		return "", false
	}

	for i := range g.Cells {
		tok, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return nil, h, fmt.Errorf("reading grid: %w", err)
			}
			return nil, h, fmt.Errorf("grid has %d cells, want %d", i, g.Area())
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, h, fmt.Errorf("cell %d: %w", i, err)
		}
		if v == h.NoData {
			return nil, h, fmt.Errorf("cell (%d,%d) is NODATA", i%ncols, i/ncols)
		}
		if v != math.Trunc(v) || v < 0 || v > float64(biotope.Shrub) {
			return nil, h, fmt.Errorf("cell (%d,%d) has invalid state %s", i%ncols, i/ncols, tok)
		}
		g.Cells[i] = biotope.State(v)
	}
	if _, extra := next(); extra {
		return nil, h, fmt.Errorf("grid has more than %d cells", g.Area())
	}
	return g, h, nil
}

// ReadASCIIFile reads an ASCII grid from path.
func ReadASCIIFile(path string) (*biotope.Grid, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("opening grid: %w", err)
	}
	defer f.Close()

	g, h, err := ReadASCII(f)
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", path, err)
	}
	return g, h, nil
}

// WriteASCII writes g as an ESRI ASCII grid.
func WriteASCII(w io.Writer, g *biotope.Grid, h Header) error {
	if err := g.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", g.Width)
	fmt.Fprintf(bw, "nrows %d\n", g.Height)
	fmt.Fprintf(bw, "xllcorner %s\n", strconv.FormatFloat(h.XLLCorner, 'f', -1, 64))
	fmt.Fprintf(bw, "yllcorner %s\n", strconv.FormatFloat(h.YLLCorner, 'f', -1, 64))
	fmt.Fprintf(bw, "cellsize %s\n", strconv.FormatFloat(h.CellSize, 'f', -1, 64))
	fmt.Fprintf(bw, "NODATA_value %s\n", strconv.FormatFloat(h.NoData, 'f', -1, 64))

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if x > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteByte('0' + byte(g.At(x, y)))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteASCIIFile writes g to path, creating parent directories.
func WriteASCIIFile(path string, g *biotope.Grid, h Header) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating grid file: %w", err)
	}
	if err := WriteASCII(f, g, h); err != nil {
		f.Close()
		return fmt.Errorf("writing grid: %w", err)
	}
	return f.Close()
}
