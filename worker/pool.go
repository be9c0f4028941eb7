package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/scheduler"
)

// Limiter gates execution by priority band. The pool calls Acquire
// before executing a claimed job and Release after execution completes.
type Limiter interface {
	// Acquire reports whether a job in the band may execute now.
	Acquire(p job.Priority) bool
	// Release decrements the active count for the band.
	Release(p job.Priority)
}

// Pool manages a set of concurrent worker goroutines that claim jobs
// from the scheduler and execute them through the Executor.
type Pool struct {
	sched       *scheduler.Scheduler
	executor    *Executor
	concurrency int
	workerID    id.WorkerID
	limiter     Limiter
	logger      *slog.Logger

	loopCtx    context.Context
	loopCancel context.CancelFunc

	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithWorkerID overrides the generated worker identifier.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithLimiter sets the per-priority fairness limiter.
func WithLimiter(l Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(sched *scheduler.Scheduler, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		sched:       sched,
		executor:    executor,
		concurrency: 4,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		activeJobs:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.loopCtx, p.loopCancel = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Unblock claimers; in-flight attempts keep their own contexts.
	p.loopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		j, err := p.sched.AwaitNext(p.loopCtx, p.workerID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("claim error", slog.String("error", err.Error()))
			select {
			case <-p.loopCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		acquired := p.waitForSlot(j.Priority)

		execCtx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		if execErr := p.executor.Execute(execCtx, j); execErr != nil {
			p.logger.Error("attempt reporting failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()

		if acquired {
			p.limiter.Release(j.Priority)
		}
	}
}

// waitForSlot blocks until the fairness limiter admits the band and
// reports whether a slot was actually acquired. The job is already
// claimed, so on shutdown the attempt proceeds anyway rather than
// stranding a processing job; that path holds no slot and must not
// release one.
func (p *Pool) waitForSlot(priority job.Priority) bool {
	if p.limiter == nil {
		return false
	}
	for !p.limiter.Acquire(priority) {
		select {
		case <-p.loopCtx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return true
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
