package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/config"
	"github.com/nvandessel/shrubmanage/internal/logging"
	"github.com/nvandessel/shrubmanage/internal/raster"
	"github.com/nvandessel/shrubmanage/internal/store"
)

var version = "0.1.0-dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shrubmanage",
		Short: "Shrub encroachment simulation under grazing and removal",
		Long: `shrubmanage simulates shrub encroachment on a grass/shrub/empty
biotope and evaluates management regimes of grazing pressure and periodic
mechanical shrub removal.

Each run fits a power law to shrub density over time; a positive slope
means shrub expansion is not controlled by the regime.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("root", ".", "Workspace root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.shrubmanage/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitMapCmd(),
		newRunCmd(),
		newSweepCmd(),
		newMonteCarloCmd(),
		newResultsCmd(),
		newSnapshotCmd(),
		newConfigCmd(),
	)

	return rootCmd
}

// loadConfig loads configuration honouring --config and --log-level.
func loadConfig(cmd *cobra.Command) (*config.ShrubConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// commandLoggers returns the stderr logger and the workspace event log.
// The event log is nil at info level; callers must Close it.
func commandLoggers(cmd *cobra.Command, cfg *config.ShrubConfig) (*slog.Logger, *logging.RunLogger) {
	root, _ := cmd.Flags().GetString("root")
	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	events := logging.NewRunLogger(store.WorkspacePath(root), cfg.Logging.Level)
	return logger, events
}

// openStore opens the results database of the workspace.
func openStore(cmd *cobra.Command) (*store.SQLiteResultStore, error) {
	root, _ := cmd.Flags().GetString("root")
	s, err := store.NewSQLiteResultStore(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open results store: %w", err)
	}
	return s, nil
}

// initialGrid loads the configured map, or generates one from the seed.
func initialGrid(cfg *config.ShrubConfig, mapPath string, seed uint64) (*biotope.Grid, error) {
	if mapPath == "" {
		mapPath = cfg.Run.InitialMap
	}
	if mapPath != "" {
		g, _, err := raster.ReadASCIIFile(mapPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read initial map: %w", err)
		}
		return g, nil
	}
	rng := rand.New(rand.NewPCG(seed, mapStream))
	g, err := biotope.Generate(cfg.Run.Width, cfg.Run.Height, cfg.Run.InitialGrass, cfg.Run.InitialShrub, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to generate initial map: %w", err)
	}
	return g, nil
}

// mapStream is the PCG stream used to generate initial maps. Samples and
// sweep cells count their streams up from 0.
const mapStream = 1<<64 - 1

// outputPath resolves name inside the configured output directory.
// Absolute and explicitly relative names are returned unchanged.
func outputPath(cmd *cobra.Command, cfg *config.ShrubConfig, name string) string {
	if filepath.IsAbs(name) || filepath.Dir(name) != "." {
		return name
	}
	dir := cfg.Output.Dir
	if !filepath.IsAbs(dir) {
		root, _ := cmd.Flags().GetString("root")
		dir = filepath.Join(root, dir)
	}
	return filepath.Join(dir, name)
}

// writeJSON encodes v to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
