package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/msgflow/pkg/ports"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the job queue is at capacity
	ErrQueueFull = errors.New("worker queue is full")

	// ErrPoolClosed is returned by Submit after Shutdown
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// Job is a unit of work executed by one worker
type Job struct {
	ID string

	// Run executes the job. ctx is cancelled when the pool shuts down.
	Run func(ctx context.Context)

	// Drop, when set, is called for a job still queued at shutdown
	Drop func()
}

// Pool manages a pool of worker goroutines
type Pool struct {
	size    int
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	jobs    chan Job
	mu      sync.RWMutex
	closed  bool
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool with size workers and room for
// queueSize pending jobs
func NewPool(
	size int,
	queueSize int,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "worker_pool")),
		jobs:    make(chan Job, queueSize),
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < size; i++ {
		pool.workers[i] = &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    pool,
			status:  WorkerStatusStopped,
			lastJob: time.Now(),
		}
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, pool.logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for _, w := range p.workers {
		w.setStatus(WorkerStatusIdle)
		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit queues a job without blocking
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		p.metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

// Health returns the pool health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Shutdown gracefully shuts down the worker pool. Running jobs see their
// context cancelled; queued jobs are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.health.Stop()

	// Cancel context to signal workers to stop
	p.cancel()

	// Wait for all workers to finish with timeout
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}

	p.drain()
	p.logger.Info("worker pool shut down complete")
	return nil
}

// drain drops the jobs left in the queue after the workers exit
func (p *Pool) drain() {
	for {
		select {
		case job := <-p.jobs:
			p.dropJob(job)
		default:
			p.metrics.SetQueueDepth(0)
			return
		}
	}
}

func (p *Pool) dropJob(job Job) {
	p.logger.Warn("dropping queued job", zap.String("job_id", job.ID))
	if job.Drop != nil {
		job.Drop()
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case job := <-w.pool.jobs:
			w.pool.metrics.SetQueueDepth(len(w.pool.jobs))
			if ctx.Err() != nil {
				w.pool.dropJob(job)
				continue
			}
			w.execute(ctx, job)
		}
	}
}

// execute runs one job, keeping the worker alive if it panics
func (w *worker) execute(ctx context.Context, job Job) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("job panicked",
				zap.String("worker_id", w.id),
				zap.String("job_id", job.ID),
				zap.Any("panic", r))
		}
		w.setStatus(WorkerStatusIdle)
		w.pool.logger.Debug("job finished",
			zap.String("worker_id", w.id),
			zap.String("job_id", job.ID),
			zap.Duration("duration", time.Since(startTime)))
	}()

	w.pool.logger.Debug("executing job",
		zap.String("worker_id", w.id),
		zap.String("job_id", job.ID))

	job.Run(ctx)
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}
