package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/shrubmanage/internal/biotope"
	"github.com/nvandessel/shrubmanage/internal/raster"
	"github.com/nvandessel/shrubmanage/internal/visualization"
)

func newInitMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-map",
		Short: "Generate a random initial biotope map",
		Long: `Generate a random initial biotope as an ESRI ASCII grid.

Cells are empty (0), grass (1) or shrub (2). Grass and shrub cover
default to the run settings in the config.

Examples:
  shrubmanage init-map                          # 200x200 map in the output dir
  shrubmanage init-map --width 50 --height 50 --shrub 0.1 --out small.asc
  shrubmanage init-map --plot map.png           # also render the map`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out, _ := cmd.Flags().GetString("out")
			plotPath, _ := cmd.Flags().GetString("plot")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("width") {
				cfg.Run.Width, _ = cmd.Flags().GetInt("width")
			}
			if cmd.Flags().Changed("height") {
				cfg.Run.Height, _ = cmd.Flags().GetInt("height")
			}
			if cmd.Flags().Changed("grass") {
				cfg.Run.InitialGrass, _ = cmd.Flags().GetFloat64("grass")
			}
			if cmd.Flags().Changed("shrub") {
				cfg.Run.InitialShrub, _ = cmd.Flags().GetFloat64("shrub")
			}
			if cmd.Flags().Changed("seed") {
				cfg.Run.Seed, _ = cmd.Flags().GetUint64("seed")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid map settings: %w", err)
			}

			// Never read the configured map here; this command creates one.
			cfg.Run.InitialMap = ""
			g, err := initialGrid(cfg, "", cfg.Run.Seed)
			if err != nil {
				return err
			}

			path := outputPath(cmd, cfg, out)
			if err := raster.WriteASCIIFile(path, g, raster.DefaultHeader()); err != nil {
				return fmt.Errorf("failed to write map: %w", err)
			}

			if plotPath != "" {
				plotPath = outputPath(cmd, cfg, plotPath)
				if err := visualization.RenderGrid(plotPath, g); err != nil {
					return fmt.Errorf("failed to plot map: %w", err)
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":   path,
					"plot":   plotPath,
					"width":  g.Width,
					"height": g.Height,
					"grass":  g.Fraction(biotope.Grass),
					"shrub":  g.Fraction(biotope.Shrub),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %dx%d map to %s (grass %.1f%%, shrub %.1f%%)\n",
				g.Width, g.Height, path, 100*g.Fraction(biotope.Grass), 100*g.Fraction(biotope.Shrub))
			if plotPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Plot: %s\n", plotPath)
			}
			return nil
		},
	}

	cmd.Flags().Int("width", 0, "Map width in cells (default from config)")
	cmd.Flags().Int("height", 0, "Map height in cells (default from config)")
	cmd.Flags().Float64("grass", 0, "Initial grass cover fraction (default from config)")
	cmd.Flags().Float64("shrub", 0, "Initial shrub cover fraction (default from config)")
	cmd.Flags().Uint64("seed", 0, "Random seed (default from config)")
	cmd.Flags().String("out", "biotope.asc", "Output ASCII grid file")
	cmd.Flags().String("plot", "", "Also render the map to this image file")

	return cmd
}
