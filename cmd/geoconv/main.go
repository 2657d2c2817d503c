package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cascadegis/geoconv/cmd/geoconv/commands"
	"github.com/cascadegis/geoconv/logger"
)

var rootCmd = &cobra.Command{
	Use:   "geoconv",
	Short: "geoconv - Vector dataset conversion with projection detection and quality scoring",
	Long: `geoconv converts vector geodata between containers (GeoJSON, CSV,
Shapefile, GeoPackage), detecting the source projection, repairing broken
geometries, normalizing attribute schemas, and scoring output quality.

Available commands:
  convert - Convert one dataset
  batch   - Run the durable job queue worker pool
  watch   - Watch a directory and convert new datasets as they appear
  formats - List supported formats and their capabilities
  jobs    - Inspect queued and finished conversion jobs

Examples:
  geoconv convert parcels.zip --to gpkg --target-epsg 4326 --fix-geometries
  geoconv convert cities.geojson --to shapefile --normalize-attributes
  geoconv batch --workers 4
  geoconv watch ./incoming --to geojson`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verbose, _ := cmd.Flags().GetCount("verbose"); verbose > 0 {
			if err := logger.SetVerbose(); err != nil {
				return fmt.Errorf("failed to enable verbose logging: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.ConvertCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.FormatsCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
