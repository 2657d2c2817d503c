package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/format"
	"github.com/cascadegis/geoconv/logger"
	"github.com/cascadegis/geoconv/pipeline"
)

var watchFlags struct {
	to            string
	outputDir     string
	targetEPSG    int
	fixGeometries bool
	normalize     bool
}

// WatchCmd converts datasets as they land in a directory
var WatchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Watch a directory and convert new datasets",
	Long: `Watch a directory for new vector datasets and convert each one as it
appears. Files with unrecognized extensions are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		outputFormat := format.Format(strings.ToLower(watchFlags.to))
		if _, err := format.Lookup(outputFormat); err != nil {
			return err
		}
		outputDir := watchFlags.outputDir
		if outputDir == "" {
			outputDir = args[0]
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		if err := watcher.Add(args[0]); err != nil {
			return err
		}

		runner := pipeline.NewRunner(cfg, logger.Logger)
		ctx := runnerContext(cmd)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		fmt.Printf("Watching %s; Ctrl-C to stop\n", args[0])

		for {
			select {
			case <-stop:
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				// Renames catch atomic writes (write to temp, move in place)
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				input := event.Name
				if _, err := format.Sniff(input); err != nil {
					continue
				}

				stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
				spec := pipeline.JobSpec{
					Input:               input,
					OutputFormat:        outputFormat,
					Output:              filepath.Join(outputDir, stem+format.ExtensionFor(outputFormat)),
					TargetEPSG:          watchFlags.targetEPSG,
					FixGeometries:       watchFlags.fixGeometries,
					NormalizeAttributes: watchFlags.normalize,
				}
				result, err := runner.Run(ctx, spec)
				if err != nil {
					logger.Logger.Errorw("watched conversion failed",
						logger.FieldComponent, "watch",
						logger.FieldFile, input,
						logger.FieldError, err,
					)
					continue
				}
				fmt.Printf("Converted %s -> %s (%d features, quality %.1f)\n",
					input, result.Output, result.FeatureCountOutput,
					result.QualityReport.CompositeScore)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Logger.Warnw("watcher error",
					logger.FieldComponent, "watch",
					logger.FieldError, err,
				)
			}
		}
	},
}

func init() {
	WatchCmd.Flags().StringVar(&watchFlags.to, "to", "geojson", "Output format for converted datasets")
	WatchCmd.Flags().StringVar(&watchFlags.outputDir, "output-dir", "", "Directory for outputs (default: the watched directory)")
	WatchCmd.Flags().IntVar(&watchFlags.targetEPSG, "target-epsg", 0, "Target EPSG (default: keep source)")
	WatchCmd.Flags().BoolVar(&watchFlags.fixGeometries, "fix-geometries", false, "Repair invalid geometries and drop duplicates")
	WatchCmd.Flags().BoolVar(&watchFlags.normalize, "normalize-attributes", false, "Normalize field names, types, and sentinel nulls")
}
