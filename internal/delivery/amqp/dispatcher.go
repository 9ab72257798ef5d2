package amqp

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/usecase"
)

// Processor handles one job and says how to settle it.
type Processor interface {
	Process(ctx context.Context, msg *domain.JobMessage) (usecase.Outcome, error)
}

// Dispatcher runs a fixed number of goroutines that take jobs from the
// consumer channel, process them and settle the delivery.
type Dispatcher struct {
	workers   int
	jobs      <-chan *domain.JobMessage
	processor Processor
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given concurrency.
func NewDispatcher(workers int, jobs <-chan *domain.JobMessage, processor Processor, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		workers:   workers,
		jobs:      jobs,
		processor: processor,
		logger:    logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled or the jobs
// channel is closed.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.loop(ctx, i)
	}
	d.logger.Info("Job dispatcher started", zap.Int("workers", d.workers))
}

// Wait blocks until every worker has finished its in-flight job.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.jobs:
			if !ok {
				return
			}
			d.handle(ctx, id, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, id int, msg *domain.JobMessage) {
	outcome, err := d.processor.Process(ctx, msg)

	var settleErr error
	switch outcome {
	case usecase.OutcomeAck:
		settleErr = msg.Ack()
	case usecase.OutcomeRequeue:
		settleErr = msg.Nack(true)
	default:
		settleErr = msg.Nack(false)
	}

	fields := []zap.Field{
		zap.Int("worker_id", id),
		zap.String("job_id", msg.ID),
		zap.String("outcome", string(outcome)),
	}
	if err != nil {
		d.logger.Debug("Job settled with error", append(fields, zap.Error(err))...)
	}
	if settleErr != nil {
		d.logger.Error("Failed to settle delivery", append(fields, zap.Error(settleErr))...)
	}
}
