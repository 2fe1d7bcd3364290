package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/shrubmanage/internal/constants"
)

func TestDefault(t *testing.T) {
	config := Default()

	// Model defaults
	if config.Model.B1 != constants.DefaultB1 {
		t.Errorf("expected B1 %v, got %v", constants.DefaultB1, config.Model.B1)
	}
	if config.Model.Theta != constants.DefaultTheta {
		t.Errorf("expected Theta %v, got %v", constants.DefaultTheta, config.Model.Theta)
	}

	// Management defaults
	if config.Management.RemovalPeriod != 5 {
		t.Errorf("expected RemovalPeriod 5, got %d", config.Management.RemovalPeriod)
	}
	if config.Management.RemovalFraction != 0.2 {
		t.Errorf("expected RemovalFraction 0.2, got %f", config.Management.RemovalFraction)
	}
	if config.Management.Timing != constants.TimingAfter {
		t.Errorf("expected Timing 'after', got '%s'", config.Management.Timing)
	}

	// Run defaults
	if config.Run.Steps != 100 {
		t.Errorf("expected Steps 100, got %d", config.Run.Steps)
	}
	if config.Run.Width != 200 || config.Run.Height != 200 {
		t.Errorf("expected 200x200 grid, got %dx%d", config.Run.Width, config.Run.Height)
	}

	// Logging defaults
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
model:
  s1: 0.2
  theta: 0.5

management:
  grazing: 0.4
  removal_period: 3
  removal_fraction: 0.7
  timing: before

run:
  steps: 25
  seed: 42
  width: 50
  height: 40

sweep:
  workers: 4
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Model.S1 != 0.2 {
		t.Errorf("expected S1 0.2, got %f", config.Model.S1)
	}
	if config.Model.B1 != constants.DefaultB1 {
		t.Errorf("unset B1 should keep its default, got %f", config.Model.B1)
	}
	if config.Management.Grazing != 0.4 {
		t.Errorf("expected Grazing 0.4, got %f", config.Management.Grazing)
	}
	if config.Management.RemovalPeriod != 3 {
		t.Errorf("expected RemovalPeriod 3, got %d", config.Management.RemovalPeriod)
	}
	if config.Management.Timing != constants.TimingBefore {
		t.Errorf("expected Timing 'before', got '%s'", config.Management.Timing)
	}
	if config.Run.Steps != 25 || config.Run.Seed != 42 {
		t.Errorf("expected steps 25 seed 42, got %d %d", config.Run.Steps, config.Run.Seed)
	}
	if config.Run.Width != 50 || config.Run.Height != 40 {
		t.Errorf("expected 50x40, got %dx%d", config.Run.Width, config.Run.Height)
	}
	if config.Sweep.Workers != 4 {
		t.Errorf("expected Workers 4, got %d", config.Sweep.Workers)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("loaded config should be valid: %v", err)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
run:
  initial_map: ${TEST_SHRUB_DATA}/biotope.asc
output:
  dir: ${TEST_SHRUB_DATA}/out
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("TEST_SHRUB_DATA", "/data/site")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Run.InitialMap != "/data/site/biotope.asc" {
		t.Errorf("expected expanded initial map, got '%s'", config.Run.InitialMap)
	}
	if config.Output.Dir != "/data/site/out" {
		t.Errorf("expected expanded output dir, got '%s'", config.Output.Dir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHRUBMANAGE_GRAZING", "0.3")
	t.Setenv("SHRUBMANAGE_REMOVAL_PERIOD", "7")
	t.Setenv("SHRUBMANAGE_REMOVAL_FRACTION", "0.9")
	t.Setenv("SHRUBMANAGE_STEPS", "12")
	t.Setenv("SHRUBMANAGE_SAMPLES", "8")
	t.Setenv("SHRUBMANAGE_SEED", "99")
	t.Setenv("SHRUBMANAGE_WORKERS", "3")
	t.Setenv("SHRUBMANAGE_OUTPUT_DIR", "/tmp/shrubs")

	config := Default()
	applyEnvOverrides(config)

	if config.Management.Grazing != 0.3 {
		t.Errorf("expected Grazing 0.3, got %f", config.Management.Grazing)
	}
	if config.Management.RemovalPeriod != 7 {
		t.Errorf("expected RemovalPeriod 7, got %d", config.Management.RemovalPeriod)
	}
	if config.Management.RemovalFraction != 0.9 {
		t.Errorf("expected RemovalFraction 0.9, got %f", config.Management.RemovalFraction)
	}
	if config.Run.Steps != 12 {
		t.Errorf("expected Steps 12, got %d", config.Run.Steps)
	}
	if config.Run.Samples != 8 {
		t.Errorf("expected Samples 8, got %d", config.Run.Samples)
	}
	if config.Run.Seed != 99 {
		t.Errorf("expected Seed 99, got %d", config.Run.Seed)
	}
	if config.Sweep.Workers != 3 {
		t.Errorf("expected Workers 3, got %d", config.Sweep.Workers)
	}
	if config.Output.Dir != "/tmp/shrubs" {
		t.Errorf("expected output dir '/tmp/shrubs', got '%s'", config.Output.Dir)
	}
}

func TestEnvOverrides_IgnoresUnparsable(t *testing.T) {
	t.Setenv("SHRUBMANAGE_STEPS", "many")
	t.Setenv("SHRUBMANAGE_GRAZING", "high")

	config := Default()
	applyEnvOverrides(config)

	if config.Run.Steps != constants.DefaultSteps {
		t.Errorf("expected default steps, got %d", config.Run.Steps)
	}
	if config.Management.Grazing != constants.DefaultGrazing {
		t.Errorf("expected default grazing, got %f", config.Management.Grazing)
	}
}

func TestEnvOverrides_LogLevel(t *testing.T) {
	t.Setenv("SHRUBMANAGE_LOG_LEVEL", "debug")

	config := Default()
	applyEnvOverrides(config)

	if config.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestLoad_UsesHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	dir := filepath.Join(home, constants.WorkspaceDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("run:\n  steps: 33\n"), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Run.Steps != 33 {
		t.Errorf("expected Steps 33 from home config, got %d", config.Run.Steps)
	}

	t.Setenv("SHRUBMANAGE_STEPS", "44")
	config, err = Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Run.Steps != 44 {
		t.Errorf("environment should win over file, got %d", config.Run.Steps)
	}
}

func TestLoadWithFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("sweep:\n  workers: 6\n"), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile failed: %v", err)
	}
	if config.Sweep.Workers != 6 {
		t.Errorf("expected Workers 6, got %d", config.Sweep.Workers)
	}

	config, err = LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile(\"\") failed: %v", err)
	}
	if config.Sweep.Workers != constants.DefaultWorkers {
		t.Errorf("expected default workers, got %d", config.Sweep.Workers)
	}
}

func TestValidate_Valid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ShrubConfig)
	}{
		{"negative rate", func(c *ShrubConfig) { c.Model.DS = -0.1 }},
		{"grazing above 1", func(c *ShrubConfig) { c.Management.Grazing = 1.5 }},
		{"negative fraction", func(c *ShrubConfig) { c.Management.RemovalFraction = -0.1 }},
		{"bad timing", func(c *ShrubConfig) { c.Management.Timing = "during" }},
		{"zero steps", func(c *ShrubConfig) { c.Run.Steps = 0 }},
		{"zero samples", func(c *ShrubConfig) { c.Run.Samples = 0 }},
		{"empty grid", func(c *ShrubConfig) { c.Run.Width = 0 }},
		{"cover above 1", func(c *ShrubConfig) { c.Run.InitialGrass = 0.8; c.Run.InitialShrub = 0.3 }},
		{"zero workers", func(c *ShrubConfig) { c.Sweep.Workers = 0 }},
		{"bad plot format", func(c *ShrubConfig) { c.Output.PlotFormat = "gif" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_LoggingConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: trace
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Logging.Level != "trace" {
		t.Errorf("expected Logging.Level 'trace', got '%s'", config.Logging.Level)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	config := Default()
	config.Logging.Level = "verbose"
	if err := config.Validate(); err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	validLevels := []string{"", "info", "debug", "trace"}

	for _, level := range validLevels {
		t.Run(level, func(t *testing.T) {
			config := Default()
			config.Logging.Level = level
			if err := config.Validate(); err != nil {
				t.Errorf("expected log level '%s' to be valid, got error: %v", level, err)
			}
		})
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
run:
  steps: [invalid yaml
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
