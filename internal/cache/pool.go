package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work. The context carries the pool's per-job
// deadline.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
// Submission never blocks: a full or closed pool rejects the job.
type Pool struct {
	q          chan Job
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	jobTimeout time.Duration
	logger     *zap.Logger
}

func NewPool(workers, queueSize int, jobTimeout time.Duration, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		q:          make(chan Job, queueSize),
		jobTimeout: jobTimeout,
		logger:     logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.q {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	ctx := context.Background()
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background job panicked", zap.Any("panic", r))
		}
	}()
	job(ctx)
}

// TrySubmit enqueues job and reports whether it was accepted.
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.q <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to end. Safe to call more than once.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
