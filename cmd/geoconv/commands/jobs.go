package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/db"
	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/format"
	"github.com/cascadegis/geoconv/logger"
	"github.com/cascadegis/geoconv/pipeline"
	"github.com/cascadegis/geoconv/queue"
)

// JobsCmd groups queue inspection and management subcommands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage queued conversion jobs",
	Long: `Work with the durable conversion queue: enqueue new jobs, list and
inspect existing ones, and cancel jobs that have not started. A running
'geoconv batch' process picks up queued jobs.`,
}

var jobsAddFlags struct {
	to            string
	output        string
	from          string
	sourceEPSG    int
	targetEPSG    int
	fixGeometries bool
	normalize     bool
	encoding      string
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <input>",
	Short: "Enqueue a conversion job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFormat := format.Format(strings.ToLower(jobsAddFlags.to))
		if _, err := format.Lookup(outputFormat); err != nil {
			return err
		}
		output := jobsAddFlags.output
		if output == "" {
			base := strings.TrimSuffix(args[0], filepath.Ext(args[0]))
			output = base + format.ExtensionFor(outputFormat)
		}

		return withStore(func(store *queue.Store) error {
			job, err := store.Enqueue(pipeline.JobSpec{
				Input:               args[0],
				DeclaredFormat:      format.Format(jobsAddFlags.from),
				SourceEPSG:          jobsAddFlags.sourceEPSG,
				OutputFormat:        outputFormat,
				Output:              output,
				TargetEPSG:          jobsAddFlags.targetEPSG,
				FixGeometries:       jobsAddFlags.fixGeometries,
				NormalizeAttributes: jobsAddFlags.normalize,
				Encoding:            jobsAddFlags.encoding,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Queued job %s: %s -> %s\n", job.ID, args[0], output)
			return nil
		})
	},
}

var jobsListFlags struct {
	status string
	limit  int
}

var jobsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List conversion jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobsListFlags.status != "" && !queue.IsValidStatus(jobsListFlags.status) {
			return errors.Newf("invalid status %q", jobsListFlags.status)
		}

		return withStore(func(store *queue.Store) error {
			jobs, err := store.List(queue.JobStatus(jobsListFlags.status), jobsListFlags.limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tINPUT\tOUTPUT\tCREATED")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					job.ID, job.Status, job.Spec.Input, job.Spec.Output,
					job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		})
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job as JSON, including its result document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *queue.Store) error {
			job, err := store.Get(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return errors.Wrap(err, "encode job")
			}
			fmt.Println(string(data))
			return nil
		})
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *queue.Store) error {
			if err := store.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Printf("Cancelled job %s\n", args[0])
			return nil
		})
	},
}

// withStore opens the job database for the duration of one subcommand
func withStore(fn func(*queue.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn, logger.Logger); err != nil {
		return err
	}
	return fn(queue.NewStore(conn, cfg.Queue.MaxQueuedJobs))
}

func init() {
	jobsAddCmd.Flags().StringVar(&jobsAddFlags.to, "to", "geojson", "Output format (geojson, csv, shapefile, gpkg)")
	jobsAddCmd.Flags().StringVarP(&jobsAddFlags.output, "output", "o", "", "Output path (default: input path with new extension)")
	jobsAddCmd.Flags().StringVar(&jobsAddFlags.from, "from", "", "Declared input format (default: sniffed from the file)")
	jobsAddCmd.Flags().IntVar(&jobsAddFlags.sourceEPSG, "source-epsg", 0, "Declared source EPSG (skips projection detection)")
	jobsAddCmd.Flags().IntVar(&jobsAddFlags.targetEPSG, "target-epsg", 0, "Target EPSG (default: keep source)")
	jobsAddCmd.Flags().BoolVar(&jobsAddFlags.fixGeometries, "fix-geometries", false, "Repair invalid geometries and drop duplicates")
	jobsAddCmd.Flags().BoolVar(&jobsAddFlags.normalize, "normalize-attributes", false, "Normalize field names, types, and sentinel nulls")
	jobsAddCmd.Flags().StringVar(&jobsAddFlags.encoding, "encoding", "utf-8", "Output text encoding (utf-8 or latin-1)")

	jobsListCmd.Flags().StringVar(&jobsListFlags.status, "status", "", "Filter by status (queued, running, completed, failed, timeout, cancelled)")
	jobsListCmd.Flags().IntVar(&jobsListFlags.limit, "limit", 50, "Maximum jobs to list")

	JobsCmd.AddCommand(jobsAddCmd)
	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
}
