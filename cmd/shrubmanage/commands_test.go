package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/config"
	"github.com/nvandessel/shrubmanage/internal/export"
	"github.com/nvandessel/shrubmanage/internal/raster"
)

func TestInitMapCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := writeTestConfig(t, tmpDir)

	out, err := execute(t, newInitMapCmd(), "init-map",
		"--root", tmpDir, "--config", cfgPath,
		"--width", "15", "--height", "5", "--shrub", "0.3", "--json")
	if err != nil {
		t.Fatalf("init-map failed: %v", err)
	}

	var got map[string]any
	decodeJSON(t, out, &got)
	path, _ := got["path"].(string)
	if path != filepath.Join(tmpDir, "out", "biotope.asc") {
		t.Errorf("path = %q, want map in the output dir", path)
	}

	g, _, err := raster.ReadASCIIFile(path)
	if err != nil {
		t.Fatalf("written map is unreadable: %v", err)
	}
	if g.Width != 15 || g.Height != 5 {
		t.Errorf("map size = %dx%d, want 15x5", g.Width, g.Height)
	}
}

func TestRunCmd_StoresRun(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := writeTestConfig(t, tmpDir)

	out, err := execute(t, newRunCmd(), "run",
		"--root", tmpDir, "--config", cfgPath,
		"--grazing", "0.5", "--period", "2", "--fraction", "0.5", "--json")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var run runOutput
	decodeJSON(t, out, &run)
	if !run.Stored {
		t.Error("run should be stored by default")
	}
	if run.Steps != 8 {
		t.Errorf("Steps = %d, want 8 from config", run.Steps)
	}
	if run.Management.Grazing != 0.5 || run.Management.RemovalPeriod != 2 {
		t.Errorf("Management = %+v, want flags applied", run.Management)
	}
	if run.Removals != 4 {
		t.Errorf("Removals = %d, want 4 events in 8 years with period 2", run.Removals)
	}

	out, err = execute(t, newResultsCmd(), "results", "list", "--root", tmpDir, "--json")
	if err != nil {
		t.Fatalf("results list failed: %v", err)
	}
	var list struct {
		Count int `json:"count"`
		Runs  []struct {
			ID string `json:"id"`
		} `json:"runs"`
	}
	decodeJSON(t, out, &list)
	if list.Count != 1 || list.Runs[0].ID != run.ID {
		t.Fatalf("results list = %+v, want the stored run %s", list, run.ID)
	}

	out, err = execute(t, newResultsCmd(), "results", "show", run.ID, "--root", tmpDir)
	if err != nil {
		t.Fatalf("results show failed: %v", err)
	}
	if !strings.Contains(out, run.ID) || !strings.Contains(out, "density") {
		t.Errorf("results show output missing run details:\n%s", out)
	}
}

func TestRunCmd_NoStoreWithFiles(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := writeTestConfig(t, tmpDir)

	out, err := execute(t, newRunCmd(), "run",
		"--root", tmpDir, "--config", cfgPath, "--no-store",
		"--snapshot", "run.snap", "--arrow", "run.arrow", "--json")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var run runOutput
	decodeJSON(t, out, &run)
	if run.Stored {
		t.Error("run should not be stored with --no-store")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".shrubmanage", "results.db")); !os.IsNotExist(err) {
		t.Error("--no-store should not create the results database")
	}

	snap, err := raster.ReadSnapshot(run.Snapshot)
	if err != nil {
		t.Fatalf("snapshot unreadable: %v", err)
	}
	if len(snap.Frames) != 9 {
		t.Errorf("snapshot frames = %d, want initial map plus 8 steps", len(snap.Frames))
	}

	rows, err := export.ReadTrajectories(run.Arrow)
	if err != nil {
		t.Fatalf("arrow file unreadable: %v", err)
	}
	if len(rows) != 8 {
		t.Errorf("arrow rows = %d, want 8", len(rows))
	}

	out, err = execute(t, newSnapshotCmd(), "snapshot", "verify", run.Snapshot)
	if err != nil {
		t.Fatalf("snapshot verify failed: %v", err)
	}
	if !strings.Contains(out, "OK") {
		t.Errorf("verify output = %q, want OK", out)
	}

	final := filepath.Join(tmpDir, "final.asc")
	if _, err := execute(t, newSnapshotCmd(), "snapshot", "extract", run.Snapshot, "--out", final); err != nil {
		t.Fatalf("snapshot extract failed: %v", err)
	}
	g, _, err := raster.ReadASCIIFile(final)
	if err != nil {
		t.Fatalf("extracted grid unreadable: %v", err)
	}
	if got := g.Fraction(biotope.Shrub); got != run.FinalDensity {
		t.Errorf("extracted shrub cover = %v, want final density %v", got, run.FinalDensity)
	}
}

func TestRunCmd_InvalidTiming(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	_, err := execute(t, newRunCmd(), "run", "--root", tmpDir, "--timing", "during", "--no-store")
	if err == nil {
		t.Fatal("expected error for invalid timing")
	}
}

func TestRunCmd_MapFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := writeTestConfig(t, tmpDir)

	g := biotope.New(6, 6)
	g.Fill(biotope.Shrub)
	mapPath := filepath.Join(tmpDir, "shrubs.asc")
	if err := raster.WriteASCIIFile(mapPath, g, raster.DefaultHeader()); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, newRunCmd(), "run",
		"--root", tmpDir, "--config", cfgPath, "--no-store", "--map", mapPath,
		"--period", "1", "--fraction", "1", "--json")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var run runOutput
	decodeJSON(t, out, &run)
	if !run.Fit.Guarded || run.Fit.Slope != -1 {
		t.Errorf("Fit = %+v, want guarded slope -1 after clearing every shrub", run.Fit)
	}
	if run.Outcome != "controlled" {
		t.Errorf("Outcome = %q, want controlled", run.Outcome)
	}
}

func TestSweepCmd_Custom(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := writeTestConfig(t, tmpDir)

	out, err := execute(t, newSweepCmd(), "sweep", "custom",
		"--root", tmpDir, "--config", cfgPath,
		"--cols", "grazing", "--col-start", "0", "--col-stop", "1", "--col-step", "0.5",
		"--steps", "4", "--workers", "2", "--arrow", "surface.arrow", "--json")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	var got sweepOutput
	decodeJSON(t, out, &got)
	if len(got.Outcomes) != 1 || len(got.Outcomes[0]) != 3 {
		t.Fatalf("outcomes shape = %v, want 1x3", got.Outcomes)
	}
	if got.Controlled+got.Uncontrolled != 3 {
		t.Errorf("counts = %d+%d, want 3 cells", got.Controlled, got.Uncontrolled)
	}
	if got.Plan.Rows.Param != "period" {
		t.Errorf("fixed row param = %s, want period", got.Plan.Rows.Param)
	}
	if _, err := os.Stat(got.Arrow); err != nil {
		t.Errorf("arrow surface not written: %v", err)
	}

	out, err = execute(t, newResultsCmd(), "results", "list", "--sweeps", "--root", tmpDir, "--json")
	if err != nil {
		t.Fatalf("results list --sweeps failed: %v", err)
	}
	var sweeps struct {
		Count int `json:"count"`
	}
	decodeJSON(t, out, &sweeps)
	if sweeps.Count != 1 {
		t.Errorf("stored sweeps = %d, want 1", sweeps.Count)
	}

	out, err = execute(t, newResultsCmd(), "results", "list", "--kind", "sweep", "--sweep", got.ID, "--root", tmpDir, "--json")
	if err != nil {
		t.Fatalf("results list --sweep failed: %v", err)
	}
	var runs struct {
		Count int `json:"count"`
	}
	decodeJSON(t, out, &runs)
	if runs.Count != 3 {
		t.Errorf("sweep cell runs = %d, want 3", runs.Count)
	}

	out, err = execute(t, newResultsCmd(), "results", "show", got.ID, "--root", tmpDir)
	if err != nil {
		t.Fatalf("results show sweep failed: %v", err)
	}
	if !strings.Contains(out, "Shrub expansion") {
		t.Errorf("sweep show should print the surface:\n%s", out)
	}
}

func TestSweepCmd_CustomRequiresCols(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := execute(t, newSweepCmd(), "sweep", "custom", "--root", tmpDir, "--no-store"); err == nil {
		t.Error("expected error without --cols")
	}
}

func TestSweepCmd_GrazingFractionText(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := writeTestConfig(t, tmpDir)

	out, err := execute(t, newSweepCmd(), "sweep", "grazing-fraction",
		"--root", tmpDir, "--config", cfgPath, "--no-store", "--steps", "2", "--workers", "4")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if !strings.Contains(out, "Slope of shrub growth") || !strings.Contains(out, "Controlled:") {
		t.Errorf("unexpected sweep output:\n%s", out)
	}
	if strings.Contains(out, "Sweep ID") {
		t.Error("--no-store output should not report a sweep ID")
	}
}

func TestMonteCarloCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	cfgPath := writeTestConfig(t, tmpDir)

	out, err := execute(t, newMonteCarloCmd(), "montecarlo",
		"--root", tmpDir, "--config", cfgPath, "--workers", "2",
		"--snapshot-dir", "snaps", "--cell-every", "4", "--json")
	if err != nil {
		t.Fatalf("montecarlo failed: %v", err)
	}

	var got ensembleOutput
	decodeJSON(t, out, &got)
	if len(got.CellSteps) != 2 || got.CellSteps[0].Step != 4 || got.CellSteps[1].Step != 8 {
		t.Errorf("cell steps = %+v, want steps 4 and 8", got.CellSteps)
	}
	if len(got.Samples) != 3 {
		t.Fatalf("samples = %d, want 3 from config", len(got.Samples))
	}
	if len(got.Steps) != 8 {
		t.Errorf("step summaries = %d, want 8", len(got.Steps))
	}
	if got.FirstSlope != got.Samples[0].Slope {
		t.Errorf("FirstSlope = %v, want sample 0 slope %v", got.FirstSlope, got.Samples[0].Slope)
	}
	if got.StoredSamples != 3 {
		t.Errorf("StoredSamples = %d, want 3", got.StoredSamples)
	}
	for i := 0; i < 3; i++ {
		if err := raster.VerifySnapshot(filepath.Join(got.SnapshotDir, fmt.Sprintf("sample-%03d.snap", i))); err != nil {
			t.Errorf("snapshot for sample %d: %v", i, err)
		}
	}

	out, err = execute(t, newResultsCmd(), "results", "list", "--kind", "ensemble", "--root", tmpDir, "--json")
	if err != nil {
		t.Fatalf("results list failed: %v", err)
	}
	var runs struct {
		Count int `json:"count"`
	}
	decodeJSON(t, out, &runs)
	if runs.Count != 3 {
		t.Errorf("stored ensemble runs = %d, want 3", runs.Count)
	}
}

func TestResultsShow_Unknown(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	_, err := execute(t, newResultsCmd(), "results", "show", "missing", "--root", tmpDir)
	if err == nil || !strings.Contains(err.Error(), "no run or sweep") {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestResultsList_InvalidFilters(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := execute(t, newResultsCmd(), "results", "list", "--kind", "weekly", "--root", tmpDir); err == nil {
		t.Error("expected error for invalid kind")
	}
	if _, err := execute(t, newResultsCmd(), "results", "list", "--outcome", "maybe", "--root", tmpDir); err == nil {
		t.Error("expected error for invalid outcome")
	}
}

func TestConfigCmd_SetGetValidate(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := execute(t, newConfigCmd(), "config", "set", "management.grazing", "0.7"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}

	out, err := execute(t, newConfigCmd(), "config", "get", "management.grazing")
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if strings.TrimSpace(out) != "management.grazing = 0.7" {
		t.Errorf("config get = %q", out)
	}

	if _, err := execute(t, newConfigCmd(), "config", "set", "management.grazing", "2"); err == nil {
		t.Error("config set should reject grazing above 1")
	}
	if _, err := execute(t, newConfigCmd(), "config", "set", "run.colour", "green"); err == nil {
		t.Error("config set should reject unknown keys")
	}
	if _, err := execute(t, newConfigCmd(), "config", "get", "run.colour"); err == nil {
		t.Error("config get should reject unknown keys")
	}

	out, err = execute(t, newConfigCmd(), "config", "validate")
	if err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("validate output = %q", out)
	}

	out, err = execute(t, newConfigCmd(), "config", "list")
	if err != nil {
		t.Fatalf("config list failed: %v", err)
	}
	if !strings.Contains(out, "management.grazing:") || !strings.Contains(out, "0.7") {
		t.Errorf("config list missing saved value:\n%s", out)
	}
}

func TestConfigCmd_ValidateRejectsBadFile(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	path := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(path, []byte("sweep:\n  workers: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, newConfigCmd(), "config", "validate", "--config", path); err == nil {
		t.Error("expected validation error for zero workers")
	}
}

func TestSetConfigValue(t *testing.T) {
	cfg := config.Default()
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"model.theta", "0.6", false},
		{"model.theta", "lots", true},
		{"management.removal_period", "3", false},
		{"management.removal_period", "3.5", true},
		{"management.timing", "before", false},
		{"management.timing", "whenever", true},
		{"run.seed", "18446744073709551615", false},
		{"output.plots", "true", false},
		{"output.plots", "sometimes", true},
		{"logging.level", "trace", false},
		{"nope", "1", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := setConfigValue(cfg, tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("setConfigValue(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}

	for _, key := range configKeys {
		if _, ok := getConfigValue(cfg, key); !ok {
			t.Errorf("getConfigValue(%q) not found", key)
		}
	}
}
