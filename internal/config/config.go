// Package config provides unified configuration loading for shrubmanage.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/shrubmanage/internal/constants"
	"github.com/nvandessel/shrubmanage/internal/model"
)

// ShrubConfig contains all shrubmanage configuration settings.
type ShrubConfig struct {
	// Model holds the transition rate parameters.
	Model model.Params `json:"model" yaml:"model"`

	// Management is the regime used by single runs and ensembles, and the
	// base regime of sweeps.
	Management model.Management `json:"management" yaml:"management"`

	// Run contains settings shared by run, sweep and montecarlo.
	Run RunConfig `json:"run" yaml:"run"`

	// Sweep contains settings for sweeps.
	Sweep SweepConfig `json:"sweep" yaml:"sweep"`

	// Output contains settings for files written next to the results store.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// RunConfig configures the simulation itself.
type RunConfig struct {
	Steps   int    `json:"steps" yaml:"steps"`
	Samples int    `json:"samples" yaml:"samples"`
	Seed    uint64 `json:"seed" yaml:"seed"`

	// Width and Height size a generated initial map.
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	// InitialMap is an ESRI ASCII grid to start from. When empty a random
	// map with the fractions below is generated. Supports ${VAR} syntax.
	InitialMap   string  `json:"initial_map,omitempty" yaml:"initial_map,omitempty"`
	InitialGrass float64 `json:"initial_grass" yaml:"initial_grass"`
	InitialShrub float64 `json:"initial_shrub" yaml:"initial_shrub"`
}

// SweepConfig configures sweeps.
type SweepConfig struct {
	// Workers bounds the number of cells run concurrently.
	Workers int `json:"workers" yaml:"workers"`
}

// OutputConfig configures result files.
type OutputConfig struct {
	// Dir is where plots, arrow files and snapshots go. Relative paths are
	// resolved against the workspace root. Supports ${VAR} syntax.
	Dir string `json:"dir" yaml:"dir"`

	// Plots, Arrow and Snapshots switch the corresponding files on by default.
	Plots     bool `json:"plots" yaml:"plots"`
	Arrow     bool `json:"arrow" yaml:"arrow"`
	Snapshots bool `json:"snapshots" yaml:"snapshots"`

	// PlotFormat is the file extension used for plots.
	PlotFormat string `json:"plot_format" yaml:"plot_format"`
}

// LoggingConfig configures shrubmanage's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables event logging to .shrubmanage/events.jsonl.
	// "trace" additionally logs every model step.
	Level string `json:"level" yaml:"level"`
}

// Default returns a ShrubConfig with the published parameter set.
func Default() *ShrubConfig {
	return &ShrubConfig{
		Model:      model.DefaultParams(),
		Management: model.DefaultManagement(),
		Run: RunConfig{
			Steps:        constants.DefaultSteps,
			Samples:      constants.DefaultSamples,
			Seed:         constants.DefaultSeed,
			Width:        constants.DefaultGridWidth,
			Height:       constants.DefaultGridHeight,
			InitialGrass: constants.DefaultInitialGrass,
			InitialShrub: constants.DefaultInitialShrub,
		},
		Sweep: SweepConfig{
			Workers: constants.DefaultWorkers,
		},
		Output: OutputConfig{
			Dir:        filepath.Join(constants.WorkspaceDirName, "output"),
			PlotFormat: "png",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the default config file location, ~/.shrubmanage/config.yaml.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, constants.WorkspaceDirName, "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.shrubmanage/config.yaml -> environment variables
func Load() (*ShrubConfig, error) {
	config := Default()

	if configPath, err := Path(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadWithFile is Load with an explicit file in place of the default one.
func LoadWithFile(path string) (*ShrubConfig, error) {
	if path == "" {
		return Load()
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*ShrubConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Run.InitialMap = expandEnvVars(config.Run.InitialMap)
	config.Output.Dir = expandEnvVars(config.Output.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *ShrubConfig) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Management.Validate(); err != nil {
		return fmt.Errorf("management: %w", err)
	}

	if c.Run.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", c.Run.Steps)
	}
	if c.Run.Samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", c.Run.Samples)
	}
	if c.Run.Width <= 0 || c.Run.Height <= 0 {
		return fmt.Errorf("grid size must be positive, got %dx%d", c.Run.Width, c.Run.Height)
	}
	if c.Run.InitialGrass < 0 || c.Run.InitialShrub < 0 || c.Run.InitialGrass+c.Run.InitialShrub > 1 {
		return fmt.Errorf("initial_grass and initial_shrub must be non-negative and sum to at most 1, got %g and %g",
			c.Run.InitialGrass, c.Run.InitialShrub)
	}

	if c.Sweep.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Sweep.Workers)
	}

	validFormats := map[string]bool{"png": true, "svg": true, "pdf": true, "eps": true, "jpg": true, "tif": true}
	if !validFormats[c.Output.PlotFormat] {
		return fmt.Errorf("invalid plot format: %s (valid: png, svg, pdf, eps, jpg, tif)", c.Output.PlotFormat)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *ShrubConfig) {
	if v := os.Getenv("SHRUBMANAGE_GRAZING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Management.Grazing = f
		}
	}

	if v := os.Getenv("SHRUBMANAGE_REMOVAL_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Management.RemovalPeriod = n
		}
	}

	if v := os.Getenv("SHRUBMANAGE_REMOVAL_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Management.RemovalFraction = f
		}
	}

	if v := os.Getenv("SHRUBMANAGE_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Run.Steps = n
		}
	}

	if v := os.Getenv("SHRUBMANAGE_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Run.Samples = n
		}
	}

	if v := os.Getenv("SHRUBMANAGE_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Run.Seed = n
		}
	}

	if v := os.Getenv("SHRUBMANAGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sweep.Workers = n
		}
	}

	if v := os.Getenv("SHRUBMANAGE_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}

	if v := os.Getenv("SHRUBMANAGE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
