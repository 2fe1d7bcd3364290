package raster

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/shrubmanage/internal/biotope"
)

// Format identifies a raster file type.
type Format int

const (
	FormatUnknown Format = iota
	FormatASCIIGrid
	FormatSnapshot
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatASCIIGrid:
		return "ascii-grid"
	case FormatSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// SnapshotVersion is the current snapshot stack version.
const SnapshotVersion = 1

// MaxDecompressedSize bounds the decompressed snapshot payload (512MB).
const MaxDecompressedSize = 512 * 1024 * 1024

// ErrChecksum is returned when a snapshot payload does not match its header.
var ErrChecksum = errors.New("snapshot checksum mismatch")

// SnapshotHeader is the plain-text first line of a snapshot stack.
type SnapshotHeader struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Checksum  string            `json:"checksum"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Steps     int               `json:"steps"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Frame is the biotope at one step. Step 0 is the initial map.
type Frame struct {
	Step  int    `json:"step"`
	Cells []byte `json:"cells"`
}

// Grid rebuilds the frame as a grid of the given size.
func (f Frame) Grid(width, height int) (*biotope.Grid, error) {
	if len(f.Cells) != width*height {
		return nil, fmt.Errorf("frame %d has %d cells, want %d", f.Step, len(f.Cells), width*height)
	}
	g := biotope.New(width, height)
	for i, c := range f.Cells {
		g.Cells[i] = biotope.State(c)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("frame %d: %w", f.Step, err)
	}
	return g, nil
}

// Snapshot is a decoded stack.
type Snapshot struct {
	Header SnapshotHeader
	Frames []Frame
}

// SnapshotRecorder collects a frame per step. It satisfies model.Observer.
type SnapshotRecorder struct {
	width, height int
	frames        []Frame

	// Every keeps only steps divisible by it (step 0 is always kept).
	Every int
}

// NewSnapshotRecorder creates an empty recorder.
func NewSnapshotRecorder() *SnapshotRecorder {
	return &SnapshotRecorder{Every: 1}
}

// Observe copies g as the frame for step.
func (r *SnapshotRecorder) Observe(step int, g *biotope.Grid) error {
	if r.Every > 1 && step%r.Every != 0 {
		return nil
	}
	if len(r.frames) == 0 {
		r.width, r.height = g.Width, g.Height
	} else if g.Width != r.width || g.Height != r.height {
		return fmt.Errorf("grid size changed from %dx%d to %dx%d", r.width, r.height, g.Width, g.Height)
	}
	cells := make([]byte, len(g.Cells))
	for i, s := range g.Cells {
		cells[i] = byte(s)
	}
	r.frames = append(r.frames, Frame{Step: step, Cells: cells})
	return nil
}

// Frames returns the recorded frames.
func (r *SnapshotRecorder) Frames() []Frame {
	return r.frames
}

// Write stores the recorded frames at path.
func (r *SnapshotRecorder) Write(path string, metadata map[string]string) error {
	if len(r.frames) == 0 {
		return fmt.Errorf("no frames recorded")
	}
	return WriteSnapshot(path, r.width, r.height, r.frames, metadata)
}

// WriteSnapshot writes frames as a header line followed by a gzip payload.
func WriteSnapshot(path string, width, height int, frames []Frame, metadata map[string]string) error {
	payload, err := json.Marshal(frames)
	if err != nil {
		return fmt.Errorf("marshaling frames: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	header := SnapshotHeader{
		Version:   SnapshotVersion,
		CreatedAt: time.Now().UTC(),
		Checksum:  checksum(compressed.Bytes()),
		Width:     width,
		Height:    height,
		Steps:     len(frames),
		Metadata:  metadata,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("writing compressed payload: %w", err)
	}
	return nil
}

// ReadSnapshot reads a stack, verifies its checksum and decompresses it.
func ReadSnapshot(path string) (*Snapshot, error) {
	header, compressed, err := readSnapshotParts(path)
	if err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var frames []Frame
	if err := json.Unmarshal(decompressed, &frames); err != nil {
		return nil, fmt.Errorf("parsing frames: %w", err)
	}
	if len(frames) != header.Steps {
		return nil, fmt.Errorf("header declares %d frames, payload has %d", header.Steps, len(frames))
	}
	return &Snapshot{Header: *header, Frames: frames}, nil
}

// ReadSnapshotHeader reads only the header line.
func ReadSnapshotHeader(path string) (*SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

// VerifySnapshot checks the payload checksum without decompressing.
func VerifySnapshot(path string) error {
	_, _, err := readSnapshotParts(path)
	return err
}

func readSnapshotParts(path string) (*SnapshotHeader, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := readHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressed); actual != header.Checksum {
		return nil, nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, actual)
	}
	return header, compressed, nil
}

func readHeader(r *bufio.Reader) (*SnapshotHeader, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var header SnapshotHeader
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	return &header, nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// DetectFormat inspects the first line of path.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return FormatUnknown, fmt.Errorf("%w: file is empty", ErrUnknownFormat)
		}
		return FormatUnknown, fmt.Errorf("reading first line: %w", err)
	}
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "{") {
		var header SnapshotHeader
		if err := json.Unmarshal([]byte(line), &header); err == nil && header.Version == SnapshotVersion {
			return FormatSnapshot, nil
		}
		return FormatUnknown, ErrUnknownFormat
	}

	fields := strings.Fields(line)
	if len(fields) == 2 {
		key := strings.ToLower(fields[0])
		if _, err := strconv.Atoi(fields[1]); err == nil && (key == "ncols" || key == "nrows") {
			return FormatASCIIGrid, nil
		}
	}
	return FormatUnknown, ErrUnknownFormat
}
