package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/db"
	"github.com/cascadegis/geoconv/logger"
	"github.com/cascadegis/geoconv/pipeline"
	"github.com/cascadegis/geoconv/queue"
)

var batchWorkers int

// BatchCmd runs the durable conversion queue
var BatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the conversion worker pool",
	Long: `Start the worker pool that processes queued conversion jobs from the
job database. Jobs are enqueued with 'geoconv jobs add' or by a watch
process; the pool keeps running until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if batchWorkers > 0 {
			cfg.Queue.Workers = batchWorkers
		}

		conn, err := db.Open(cfg.Database.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.Migrate(conn, logger.Logger); err != nil {
			return err
		}

		store := queue.NewStore(conn, cfg.Queue.MaxQueuedJobs)
		runner := pipeline.NewRunner(cfg, logger.Logger)
		pool := queue.NewWorkerPool(runnerContext(cmd), store, runner, cfg.Queue, logger.Logger)
		if err := pool.Start(); err != nil {
			return err
		}

		fmt.Printf("Worker pool running with %d workers; Ctrl-C to stop\n", cfg.Queue.Workers)
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		pool.Stop()
		return nil
	},
}

func init() {
	BatchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Concurrent workers (default: from configuration)")
}
