package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/shrubmanage/internal/constants"
	"github.com/nvandessel/shrubmanage/internal/growth"
	"github.com/nvandessel/shrubmanage/internal/model"
	"github.com/nvandessel/shrubmanage/internal/sweep"
)

// timeLayout is fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteResultStore implements ResultStore on a SQLite database.
type SQLiteResultStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteResultStore opens (or creates) the results database at
// <workspaceRoot>/.shrubmanage/results.db.
func NewSQLiteResultStore(workspaceRoot string) (*SQLiteResultStore, error) {
	dir, err := EnsureWorkspaceDir(workspaceRoot)
	if err != nil {
		return nil, err
	}
	return OpenSQLiteResultStore(filepath.Join(dir, constants.ResultsDBName))
}

// OpenSQLiteResultStore opens the database at dbPath.
func OpenSQLiteResultStore(dbPath string) (*SQLiteResultStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteResultStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteResultStore) Path() string {
	return s.dbPath
}

// SaveRun stores a run and its densities in one transaction.
func (s *SQLiteResultStore) SaveRun(ctx context.Context, rec RunRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if !rec.Kind.Valid() {
		return "", fmt.Errorf("invalid run kind: %q", rec.Kind)
	}

	params, err := json.Marshal(rec.Params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, kind, sweep_id, sample, params,
			grazing, removal_period, removal_fraction, timing,
			seed, stream, steps, width, height,
			slope, intercept, guarded, outcome, final_density, removals,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), nullString(rec.SweepID), rec.Sample, string(params),
		rec.Management.Grazing, rec.Management.RemovalPeriod, rec.Management.RemovalFraction, string(rec.Management.Timing),
		int64(rec.Seed), int64(rec.Stream), rec.Steps, rec.Width, rec.Height,
		rec.Fit.Slope, rec.Fit.Intercept, boolToInt(rec.Fit.Guarded), int(rec.Outcome), rec.FinalDensity, rec.Removals,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO densities (run_id, step, density, growth) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare density insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range rec.Densities {
		if _, err := stmt.ExecContext(ctx, rec.ID, d.Step, d.Density, nullFloat(d.Growth)); err != nil {
			return "", fmt.Errorf("failed to insert density at step %d: %w", d.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return rec.ID, nil
}

const runColumns = `id, kind, sweep_id, sample, params,
	grazing, removal_period, removal_fraction, timing,
	seed, stream, steps, width, height,
	slope, intercept, guarded, outcome, final_density, removals,
	created_at`

// GetRun returns the run without densities.
func (s *SQLiteResultStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRuns returns matching runs, newest first.
func (s *SQLiteResultStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.SweepID != "" {
		where = append(where, "sweep_id = ?")
		args = append(args, filter.SweepID)
	}
	if filter.Outcome != nil {
		where = append(where, "outcome = ?")
		args = append(args, int(*filter.Outcome))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// Densities returns the stored trajectory of a run ordered by step.
func (s *SQLiteResultStore) Densities(ctx context.Context, runID string) ([]DensityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, density, growth FROM densities WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query densities: %w", err)
	}
	defer rows.Close()

	var out []DensityRecord
	for rows.Next() {
		var (
			d DensityRecord
			g sql.NullFloat64
		)
		if err := rows.Scan(&d.Step, &d.Density, &g); err != nil {
			return nil, fmt.Errorf("failed to scan density: %w", err)
		}
		d.Growth = math.NaN()
		if g.Valid {
			d.Growth = g.Float64
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveSweep stores a sweep and its cells.
func (s *SQLiteResultStore) SaveSweep(ctx context.Context, rec SweepRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	rowValues, err := json.Marshal(rec.RowValues)
	if err != nil {
		return "", fmt.Errorf("failed to marshal row values: %w", err)
	}
	colValues, err := json.Marshal(rec.ColValues)
	if err != nil {
		return "", fmt.Errorf("failed to marshal col values: %w", err)
	}
	base, err := json.Marshal(rec.Base)
	if err != nil {
		return "", fmt.Errorf("failed to marshal base management: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sweeps (
			id, name, row_param, col_param, row_values, col_values, base,
			steps, seed, controlled, uncontrolled, elapsed_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, string(rec.RowParam), string(rec.ColParam),
		string(rowValues), string(colValues), string(base),
		rec.Steps, int64(rec.Seed), rec.Controlled, rec.Uncontrolled,
		rec.Elapsed.Milliseconds(), rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert sweep: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sweep_cells (
			sweep_id, row_idx, col_idx, row_value, col_value,
			slope, intercept, guarded, outcome, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare cell insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range rec.Cells {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, c.Row, c.Col, c.RowValue, c.ColValue,
			c.Fit.Slope, c.Fit.Intercept, boolToInt(c.Fit.Guarded), int(c.Outcome), nullString(c.RunID),
		); err != nil {
			return "", fmt.Errorf("failed to insert cell (%d,%d): %w", c.Row, c.Col, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit sweep: %w", err)
	}
	return rec.ID, nil
}

const sweepColumns = `id, name, row_param, col_param, row_values, col_values, base,
	steps, seed, controlled, uncontrolled, elapsed_ms, created_at`

// GetSweep returns a sweep with its cells in row-major order.
func (s *SQLiteResultStore) GetSweep(ctx context.Context, id string) (*SweepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := scanSweep(s.db.QueryRowContext(ctx, `SELECT `+sweepColumns+` FROM sweeps WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT row_idx, col_idx, row_value, col_value, slope, intercept, guarded, outcome, run_id
		FROM sweep_cells WHERE sweep_id = ? ORDER BY row_idx, col_idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c       SweepCellRecord
			guarded int
			outcome int
			runID   sql.NullString
		)
		if err := rows.Scan(&c.Row, &c.Col, &c.RowValue, &c.ColValue,
			&c.Fit.Slope, &c.Fit.Intercept, &guarded, &outcome, &runID); err != nil {
			return nil, fmt.Errorf("failed to scan sweep cell: %w", err)
		}
		c.Fit.Guarded = guarded != 0
		c.Outcome = growth.Outcome(outcome)
		c.RunID = runID.String
		rec.Cells = append(rec.Cells, c)
	}
	return rec, rows.Err()
}

// ListSweeps returns sweeps newest first, without cells.
func (s *SQLiteResultStore) ListSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + sweepColumns + ` FROM sweeps ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var out []SweepRecord
	for rows.Next() {
		rec, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec       RunRecord
		kind      string
		sweepID   sql.NullString
		params    string
		timing    string
		seed      int64
		stream    int64
		guarded   int
		outcome   int
		createdAt string
	)
	err := row.Scan(
		&rec.ID, &kind, &sweepID, &rec.Sample, &params,
		&rec.Management.Grazing, &rec.Management.RemovalPeriod, &rec.Management.RemovalFraction, &timing,
		&seed, &stream, &rec.Steps, &rec.Width, &rec.Height,
		&rec.Fit.Slope, &rec.Fit.Intercept, &guarded, &outcome, &rec.FinalDensity, &rec.Removals,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	rec.Kind = RunKind(kind)
	rec.SweepID = sweepID.String
	rec.Management.Timing = constants.RemovalTiming(timing)
	rec.Seed = uint64(seed)
	rec.Stream = uint64(stream)
	rec.Fit.Guarded = guarded != 0
	rec.Outcome = growth.Outcome(outcome)
	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, fmt.Errorf("failed to parse params of run %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at of run %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func scanSweep(row rowScanner) (*SweepRecord, error) {
	var (
		rec       SweepRecord
		rowParam  string
		colParam  string
		rowValues string
		colValues string
		base      string
		seed      int64
		elapsedMS int64
		createdAt string
	)
	err := row.Scan(&rec.ID, &rec.Name, &rowParam, &colParam, &rowValues, &colValues, &base,
		&rec.Steps, &seed, &rec.Controlled, &rec.Uncontrolled, &elapsedMS, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sweep: %w", err)
	}

	rec.RowParam = sweep.Param(rowParam)
	rec.ColParam = sweep.Param(colParam)
	rec.Seed = uint64(seed)
	rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if err := json.Unmarshal([]byte(rowValues), &rec.RowValues); err != nil {
		return nil, fmt.Errorf("failed to parse row values: %w", err)
	}
	if err := json.Unmarshal([]byte(colValues), &rec.ColValues); err != nil {
		return nil, fmt.Errorf("failed to parse col values: %w", err)
	}
	var mgmt model.Management
	if err := json.Unmarshal([]byte(base), &mgmt); err != nil {
		return nil, fmt.Errorf("failed to parse base management: %w", err)
	}
	rec.Base = mgmt
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at of sweep %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
