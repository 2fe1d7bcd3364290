package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/shrubmanage/internal/config"
	"github.com/nvandessel/shrubmanage/internal/constants"
)

// configKeys lists the keys accepted by config get and set, in display order.
var configKeys = []string{
	"model.b1", "model.b2", "model.b3", "model.s1", "model.s2",
	"model.bg", "model.c", "model.ds", "model.dg", "model.theta",
	"management.grazing", "management.removal_period", "management.removal_fraction", "management.timing",
	"run.steps", "run.samples", "run.seed", "run.width", "run.height",
	"run.initial_map", "run.initial_grass", "run.initial_shrub",
	"sweep.workers",
	"output.dir", "output.plots", "output.arrow", "output.snapshots", "output.plot_format",
	"logging.level",
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage shrubmanage configuration",
		Long: `View and modify shrubmanage configuration settings.

Configuration is stored in ~/.shrubmanage/config.yaml. Environment
variables such as SHRUBMANAGE_GRAZING override the file.

Examples:
  shrubmanage config list                          # Show all settings
  shrubmanage config get management.grazing        # Get a specific setting
  shrubmanage config set run.steps 50              # Set a setting
  shrubmanage config validate --config site.yaml   # Check a config file`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

// loadRawConfig loads configuration without validating it.
func loadRawConfig(cmd *cobra.Command) (*config.ShrubConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadRawConfig(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}

			w := cmd.OutOrStdout()
			source, _ := cmd.Flags().GetString("config")
			if source == "" {
				source = "~/" + constants.WorkspaceDirName + "/config.yaml"
			}
			fmt.Fprintf(w, "Configuration (%s):\n", source)
			section := ""
			for _, key := range configKeys {
				sec, _, _ := strings.Cut(key, ".")
				if sec != section {
					fmt.Fprintln(w)
					section = sec
				}
				value, _ := getConfigValue(cfg, key)
				fmt.Fprintf(w, "  %-28s %v\n", key+":", valueOrDefault(fmt.Sprint(value), "(not set)"))
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := loadRawConfig(cmd)
			if err != nil {
				return err
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"key":   key,
					"value": value,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value in ~/.shrubmanage/config.yaml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			path, err := config.Path()
			if err != nil {
				return fmt.Errorf("failed to locate config: %w", err)
			}
			cfg := config.Default()
			if _, statErr := os.Stat(path); statErr == nil {
				if cfg, err = config.LoadFromFile(path); err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			}

			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			if err := saveConfig(path, cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"status": "updated",
					"key":    key,
					"value":  value,
					"path":   path,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the effective configuration is valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadRawConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				if jsonOut {
					_ = writeJSON(cmd.OutOrStdout(), map[string]any{"valid": false, "error": err.Error()})
				}
				return fmt.Errorf("invalid config: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"valid": true})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.ShrubConfig, key string) (any, bool) {
	switch key {
	case "model.b1":
		return cfg.Model.B1, true
	case "model.b2":
		return cfg.Model.B2, true
	case "model.b3":
		return cfg.Model.B3, true
	case "model.s1":
		return cfg.Model.S1, true
	case "model.s2":
		return cfg.Model.S2, true
	case "model.bg":
		return cfg.Model.BG, true
	case "model.c":
		return cfg.Model.C, true
	case "model.ds":
		return cfg.Model.DS, true
	case "model.dg":
		return cfg.Model.DG, true
	case "model.theta":
		return cfg.Model.Theta, true
	case "management.grazing":
		return cfg.Management.Grazing, true
	case "management.removal_period":
		return cfg.Management.RemovalPeriod, true
	case "management.removal_fraction":
		return cfg.Management.RemovalFraction, true
	case "management.timing":
		return string(cfg.Management.Timing), true
	case "run.steps":
		return cfg.Run.Steps, true
	case "run.samples":
		return cfg.Run.Samples, true
	case "run.seed":
		return cfg.Run.Seed, true
	case "run.width":
		return cfg.Run.Width, true
	case "run.height":
		return cfg.Run.Height, true
	case "run.initial_map":
		return cfg.Run.InitialMap, true
	case "run.initial_grass":
		return cfg.Run.InitialGrass, true
	case "run.initial_shrub":
		return cfg.Run.InitialShrub, true
	case "sweep.workers":
		return cfg.Sweep.Workers, true
	case "output.dir":
		return cfg.Output.Dir, true
	case "output.plots":
		return cfg.Output.Plots, true
	case "output.arrow":
		return cfg.Output.Arrow, true
	case "output.snapshots":
		return cfg.Output.Snapshots, true
	case "output.plot_format":
		return cfg.Output.PlotFormat, true
	case "logging.level":
		return cfg.Logging.Level, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.ShrubConfig, key, value string) error {
	floatFields := map[string]*float64{
		"model.b1": &cfg.Model.B1, "model.b2": &cfg.Model.B2, "model.b3": &cfg.Model.B3,
		"model.s1": &cfg.Model.S1, "model.s2": &cfg.Model.S2, "model.bg": &cfg.Model.BG,
		"model.c": &cfg.Model.C, "model.ds": &cfg.Model.DS, "model.dg": &cfg.Model.DG,
		"model.theta":                 &cfg.Model.Theta,
		"management.grazing":          &cfg.Management.Grazing,
		"management.removal_fraction": &cfg.Management.RemovalFraction,
		"run.initial_grass":           &cfg.Run.InitialGrass,
		"run.initial_shrub":           &cfg.Run.InitialShrub,
	}
	intFields := map[string]*int{
		"management.removal_period": &cfg.Management.RemovalPeriod,
		"run.steps":                 &cfg.Run.Steps,
		"run.samples":               &cfg.Run.Samples,
		"run.width":                 &cfg.Run.Width,
		"run.height":                &cfg.Run.Height,
		"sweep.workers":             &cfg.Sweep.Workers,
	}
	boolFields := map[string]*bool{
		"output.plots":     &cfg.Output.Plots,
		"output.arrow":     &cfg.Output.Arrow,
		"output.snapshots": &cfg.Output.Snapshots,
	}

	if p, ok := floatFields[key]; ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		*p = f
		return nil
	}
	if p, ok := intFields[key]; ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %s", key, value)
		}
		*p = n
		return nil
	}
	if p, ok := boolFields[key]; ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s", key, value)
		}
		*p = b
		return nil
	}

	switch key {
	case "management.timing":
		timing, ok := constants.ParseRemovalTiming(value)
		if !ok {
			return fmt.Errorf("invalid timing: %s (valid: after, before)", value)
		}
		cfg.Management.Timing = timing
	case "run.seed":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %s", value)
		}
		cfg.Run.Seed = n
	case "run.initial_map":
		cfg.Run.InitialMap = value
	case "output.dir":
		cfg.Output.Dir = value
	case "output.plot_format":
		cfg.Output.PlotFormat = value
	case "logging.level":
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// saveConfig writes the configuration to path.
func saveConfig(path string, cfg *config.ShrubConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// valueOrDefault returns the value if non-empty, otherwise the default.
func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
