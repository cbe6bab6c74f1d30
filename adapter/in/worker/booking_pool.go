// Package worker runs pipeline jobs on a bounded go-pkgz/pool worker group.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"booking_worker/core/domain"
	"booking_worker/core/port/in"
	"booking_worker/pkg/metrics"
)

// ErrPoolStopped is returned when a job is submitted to a pool that is not running.
var ErrPoolStopped = errors.New("worker pool is not running")

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int
	WorkerChanSize int
	JobTimeout     time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		WorkerChanSize: 100,
		JobTimeout:     3 * time.Minute,
	}
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	Submitted      int64
	Processed      int64
	Skipped        int64
	Failed         int64
	AvgProcessTime int64 // milliseconds
}

// Pool runs one pipeline per job, Workers at a time.
type Pool struct {
	service in.EmailProcessingService
	config  *PoolConfig
	log     zerolog.Logger

	group *pool.WorkerGroup[*Job]
	stats *metrics.RunRegistry

	// OnOutcome, when set, observes every finished run.
	OnOutcome func(job *Job, outcome *domain.Outcome)

	metrics PoolMetrics
	started bool
	mu      sync.Mutex
}

// NewPool creates a pool. It does nothing until Start.
func NewPool(service in.EmailProcessingService, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Pool{
		service: service,
		config:  config,
		log:     log.With().Str("component", "worker_pool").Logger(),
		stats:   metrics.Runs(),
	}
}

// Start launches the workers. Jobs submitted after ctx ends are not run.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	group := pool.New[*Job](p.config.Workers, pool.WorkerFunc[*Job](p.run)).
		WithContinueOnError()
	if p.config.WorkerChanSize > 0 {
		group = group.WithWorkerChanSize(p.config.WorkerChanSize)
	}
	if err := group.Go(ctx); err != nil {
		return err
	}

	p.group = group
	p.started = true

	p.log.Info().
		Int("workers", p.config.Workers).
		Dur("job_timeout", p.config.JobTimeout).
		Msg("worker pool started")
	return nil
}

// Submit queues a job. It blocks while every worker channel is full.
func (p *Pool) Submit(job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolStopped
	}
	p.group.Submit(job)
	atomic.AddInt64(&p.metrics.Submitted, 1)
	return nil
}

// HandleTrigger submits a stream trigger.
func (p *Pool) HandleTrigger(_ context.Context, trigger domain.Trigger) error {
	return p.Submit(NewJob(SourceStream, trigger))
}

// Stop waits for queued jobs to finish, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	group := p.group
	p.mu.Unlock()

	err := group.Close(ctx)

	m := p.Metrics()
	p.log.Info().
		Int64("submitted", m.Submitted).
		Int64("processed", m.Processed).
		Int64("skipped", m.Skipped).
		Int64("failed", m.Failed).
		Msg("worker pool stopped")
	return err
}

// Metrics returns a snapshot of the counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Submitted:      atomic.LoadInt64(&p.metrics.Submitted),
		Processed:      atomic.LoadInt64(&p.metrics.Processed),
		Skipped:        atomic.LoadInt64(&p.metrics.Skipped),
		Failed:         atomic.LoadInt64(&p.metrics.Failed),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
	}
}

// run processes one job. Failures live in the outcome, so it never returns an error.
func (p *Pool) run(ctx context.Context, job *Job) error {
	start := time.Now()

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	var outcome *domain.Outcome
	if job.Raw != nil {
		outcome = p.service.ProcessRaw(jobCtx, job.Trigger, job.Raw)
	} else {
		outcome = p.service.Process(jobCtx, job.Trigger)
	}

	elapsed := time.Since(start)
	p.updateAvgProcessTime(elapsed.Milliseconds())
	p.stats.Record(job.Source, string(outcome.Action), outcome.ErrorCode, elapsed)

	event := p.log.Info()
	switch outcome.Action {
	case domain.ActionProcessed:
		atomic.AddInt64(&p.metrics.Processed, 1)
	case domain.ActionSkipped:
		atomic.AddInt64(&p.metrics.Skipped, 1)
	default:
		atomic.AddInt64(&p.metrics.Failed, 1)
		event = p.log.Error().Str("error_code", outcome.ErrorCode).Str("error", outcome.Error)
	}
	event.
		Str("job_id", job.ID).
		Str("source", job.Source).
		Str("run_id", outcome.RunID).
		Str("bucket", job.Trigger.Bucket).
		Str("key", job.Trigger.Key).
		Str("action", string(outcome.Action)).
		Dur("elapsed", elapsed).
		Msg("job finished")

	if p.OnOutcome != nil {
		p.OnOutcome(job, outcome)
	}
	return nil
}

// updateAvgProcessTime keeps an exponential moving average.
func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}
