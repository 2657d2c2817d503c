package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/format"
	"github.com/cascadegis/geoconv/logger"
	"github.com/cascadegis/geoconv/pipeline"
)

var convertFlags struct {
	to            string
	output        string
	from          string
	sourceEPSG    int
	targetEPSG    int
	fixGeometries bool
	normalize     bool
	encoding      string
	reportPath    string
}

// ConvertCmd converts a single dataset
var ConvertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Convert one vector dataset",
	Long: `Convert a vector dataset to another container format, optionally
reprojecting it, repairing geometries, and normalizing the attribute schema.
The quality report is printed to stdout when the job finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		outputFormat := format.Format(strings.ToLower(convertFlags.to))
		if _, err := format.Lookup(outputFormat); err != nil {
			return err
		}

		output := convertFlags.output
		if output == "" {
			base := strings.TrimSuffix(args[0], filepath.Ext(args[0]))
			output = base + format.ExtensionFor(outputFormat)
		}

		spec := pipeline.JobSpec{
			Input:               args[0],
			DeclaredFormat:      format.Format(convertFlags.from),
			SourceEPSG:          convertFlags.sourceEPSG,
			OutputFormat:        outputFormat,
			Output:              output,
			TargetEPSG:          convertFlags.targetEPSG,
			FixGeometries:       convertFlags.fixGeometries,
			NormalizeAttributes: convertFlags.normalize,
			Encoding:            convertFlags.encoding,
		}

		runner := pipeline.NewRunner(cfg, logger.Logger)
		result, err := runner.Run(runnerContext(cmd), spec)
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %d features to %s (%.2fs)\n",
			result.FeatureCountOutput, result.Output, result.ProcessingTimeSeconds)
		fmt.Printf("Quality: %.1f (%s)\n",
			result.QualityReport.CompositeScore, result.QualityReport.Grade)
		for _, rec := range result.QualityReport.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}

		if convertFlags.reportPath != "" {
			return writeReport(convertFlags.reportPath, result)
		}
		return nil
	},
}

func writeReport(path string, result *pipeline.Result) error {
	data, err := json.MarshalIndent(result.QualityReport, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// runnerContext returns the command context, falling back to Background
// for callers that construct commands directly.
func runnerContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	ConvertCmd.Flags().StringVar(&convertFlags.to, "to", "geojson", "Output format (geojson, csv, shapefile, gpkg)")
	ConvertCmd.Flags().StringVarP(&convertFlags.output, "output", "o", "", "Output path (default: input path with new extension)")
	ConvertCmd.Flags().StringVar(&convertFlags.from, "from", "", "Declared input format (default: sniffed from the file)")
	ConvertCmd.Flags().IntVar(&convertFlags.sourceEPSG, "source-epsg", 0, "Declared source EPSG (skips projection detection)")
	ConvertCmd.Flags().IntVar(&convertFlags.targetEPSG, "target-epsg", 0, "Target EPSG (default: keep source)")
	ConvertCmd.Flags().BoolVar(&convertFlags.fixGeometries, "fix-geometries", false, "Repair invalid geometries and drop duplicates")
	ConvertCmd.Flags().BoolVar(&convertFlags.normalize, "normalize-attributes", false, "Normalize field names, types, and sentinel nulls")
	ConvertCmd.Flags().StringVar(&convertFlags.encoding, "encoding", "utf-8", "Output text encoding (utf-8 or latin-1)")
	ConvertCmd.Flags().StringVar(&convertFlags.reportPath, "report", "", "Write the quality report JSON to this path")
}
