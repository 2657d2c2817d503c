package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/db"
	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/logger"
	"github.com/cascadegis/geoconv/pipeline"
)

// WorkerPool polls the store and feeds claimed jobs through the pipeline.
// Workers detect cancellation via ctx.Done() and exit between jobs; a
// running conversion is bounded by the pipeline's own hard budget.
type WorkerPool struct {
	store   *Store
	runner  *pipeline.Runner
	cfg     config.QueueConfig
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool; Start must be called to begin processing
func NewWorkerPool(parent context.Context, store *Store, runner *pipeline.Runner, cfg config.QueueConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = logger.Logger
	}
	ctx, cancel := context.WithCancel(parent)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.JobsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.JobsPerMinute)/60.0), 1)
	}
	return &WorkerPool{
		store:   store,
		runner:  runner,
		cfg:     cfg,
		limiter: limiter,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start requeues orphaned jobs and launches the workers
func (p *WorkerPool) Start() error {
	recovered, err := p.store.RecoverOrphaned()
	if err != nil {
		return err
	}
	if recovered > 0 {
		p.log.Infow("requeued jobs orphaned by a previous run",
			logger.FieldComponent, "queue",
			logger.FieldCount, recovered,
		)
	}

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infow("worker pool started",
		logger.FieldComponent, "queue",
		logger.FieldCount, workers,
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.log.Infow("worker pool stopped", logger.FieldComponent, "queue")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	interval := time.Duration(p.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.drain(id)
		}
	}
}

// drain processes queued jobs until the queue is empty or the pool stops
func (p *WorkerPool) drain(workerID int) {
	for {
		if p.ctx.Err() != nil {
			return
		}
		if err := p.limiter.Wait(p.ctx); err != nil {
			return
		}

		job, err := p.store.ClaimNext()
		if err != nil {
			// The connection closes before workers exit during shutdown
			if db.IsDatabaseClosed(err) {
				p.log.Debugw("claim skipped, database closed",
					logger.FieldComponent, "queue",
					logger.FieldWorkerID, workerID,
				)
				return
			}
			p.log.Errorw("failed to claim next job",
				logger.FieldComponent, "queue",
				logger.FieldWorkerID, workerID,
				logger.FieldError, err,
			)
			return
		}
		if job == nil {
			return
		}
		p.runJob(workerID, job)
	}
}

func (p *WorkerPool) runJob(workerID int, job *Job) {
	p.log.Infow("job started",
		logger.FieldComponent, "queue",
		logger.FieldWorkerID, workerID,
		logger.FieldJobID, job.ID,
	)

	result, err := p.runner.Run(p.ctx, job.Spec)
	if err != nil {
		if storeErr := p.store.Fail(job.ID, err); storeErr != nil {
			p.log.Errorw("failed to record job failure",
				logger.FieldComponent, "queue",
				logger.FieldJobID, job.ID,
				logger.FieldError, storeErr,
			)
		}
		p.log.Warnw("job failed",
			logger.FieldComponent, "queue",
			logger.FieldWorkerID, workerID,
			logger.FieldJobID, job.ID,
			logger.FieldErrorKind, errors.Kind(err),
			logger.FieldError, err,
		)
		return
	}

	if err := p.store.Complete(job.ID, result); err != nil {
		p.log.Errorw("failed to record job completion",
			logger.FieldComponent, "queue",
			logger.FieldJobID, job.ID,
			logger.FieldError, err,
		)
		return
	}
	p.log.Infow("job completed",
		logger.FieldComponent, "queue",
		logger.FieldWorkerID, workerID,
		logger.FieldJobID, job.ID,
		logger.FieldFeatureCount, result.FeatureCountOutput,
		logger.FieldQualityScore, result.QualityReport.CompositeScore,
	)
}
