package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/metrics"
)

// ErrClosed is returned by Do and DoWait after Close.
var ErrClosed = errors.New("pool closed")

const (
	taskQueued int32 = iota
	taskRunning
	taskCancelled
)

type task struct {
	ctx   context.Context
	fn    func(context.Context) error
	done  chan error
	state atomic.Int32
}

// WorkerPool bounds how many sandboxes run at once. Work beyond the number
// of workers waits in a FIFO queue of fixed depth; once the queue is full,
// new work is rejected with domain.ErrSystemBusy instead of piling up.
type WorkerPool struct {
	size   int
	tasks  chan *task
	logger *zap.Logger
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
	once   sync.Once
}

// NewWorkerPool creates a pool with size workers and room for queueDepth
// waiting tasks, and starts the workers.
func NewWorkerPool(size, queueDepth int, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		size:   size,
		tasks:  make(chan *task, queueDepth),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}

	p.logger.Info("Starting worker pool", zap.Int("pool_size", size), zap.Int("queue_depth", queueDepth))
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Do runs fn on a pool worker and returns its error. It fails fast with
// domain.ErrSystemBusy when the queue is full. If ctx ends while the task is
// still queued the task is dropped; once running, Do waits for fn to return
// so callers never clean up under a live sandbox.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) error) error {
	return p.submit(ctx, fn, false)
}

// DoWait is Do for work that was already admitted: instead of failing with
// domain.ErrSystemBusy on a full queue it waits for room, until ctx ends or
// the pool closes.
func (p *WorkerPool) DoWait(ctx context.Context, fn func(context.Context) error) error {
	return p.submit(ctx, fn, true)
}

func (p *WorkerPool) submit(ctx context.Context, fn func(context.Context) error, wait bool) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	if wait {
		select {
		case p.tasks <- t:
			metrics.QueueDepth.Inc()
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closed:
			return ErrClosed
		}
	} else {
		select {
		case p.tasks <- t:
			metrics.QueueDepth.Inc()
		default:
			metrics.QueueRejections.Inc()
			return domain.ErrSystemBusy
		}
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskQueued, taskCancelled) {
			return ctx.Err()
		}
		return <-t.done
	case <-p.closed:
		if t.state.CompareAndSwap(taskQueued, taskCancelled) {
			return ErrClosed
		}
		return <-t.done
	}
}

// Close stops the workers after their current tasks and waits for them.
// Tasks still queued are abandoned and their callers get ErrClosed.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.cancel()
		close(p.closed)
		p.wg.Wait()
		p.logger.Info("Worker pool stopped")
	})
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case t := <-p.tasks:
			metrics.QueueDepth.Dec()
			if !t.state.CompareAndSwap(taskQueued, taskRunning) {
				continue // caller gave up while queued
			}
			if err := t.ctx.Err(); err != nil {
				t.done <- err
				continue
			}
			t.done <- p.run(id, t)
		}
	}
}

func (p *WorkerPool) run(id int, t *task) (err error) {
	metrics.SandboxesActive.Inc()
	defer metrics.SandboxesActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	return t.fn(t.ctx)
}
