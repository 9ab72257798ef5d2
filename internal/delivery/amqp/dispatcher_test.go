package amqp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/usecase"
)

// fakeAcknowledger records how deliveries were settled.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, tag)
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type processorFunc func(ctx context.Context, msg *domain.JobMessage) (usecase.Outcome, error)

func (f processorFunc) Process(ctx context.Context, msg *domain.JobMessage) (usecase.Outcome, error) {
	return f(ctx, msg)
}

func TestToJobMessage(t *testing.T) {
	ack := &fakeAcknowledger{}
	msg := toJobMessage(amqplib.Delivery{
		Acknowledger:  ack,
		DeliveryTag:   7,
		MessageId:     "m-1",
		CorrelationId: "c-1",
		ReplyTo:       "replies",
		Redelivered:   true,
		Body:          []byte(`{"kind":"judge"}`),
	})

	if msg.ID != "m-1" || msg.CorrelationID != "c-1" || msg.ReplyTo != "replies" || !msg.Redelivered {
		t.Errorf("unexpected message: %+v", msg)
	}
	if err := msg.Nack(true); err != nil {
		t.Fatal(err)
	}
	if len(ack.nacks) != 1 || ack.nacks[0] != 7 || !ack.requeue[0] {
		t.Errorf("nack not forwarded: %+v", ack)
	}
}

func TestDispatcher_SettlesByOutcome(t *testing.T) {
	ack := &fakeAcknowledger{}
	outcomes := map[string]usecase.Outcome{
		"a": usecase.OutcomeAck,
		"b": usecase.OutcomeRequeue,
		"c": usecase.OutcomeReject,
	}
	proc := processorFunc(func(ctx context.Context, msg *domain.JobMessage) (usecase.Outcome, error) {
		if outcomes[msg.ID] != usecase.OutcomeAck {
			return outcomes[msg.ID], errors.New("failed")
		}
		return usecase.OutcomeAck, nil
	})

	jobs := make(chan *domain.JobMessage, 3)
	for i, id := range []string{"a", "b", "c"} {
		jobs <- toJobMessage(amqplib.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1), MessageId: id})
	}
	close(jobs)

	d := NewDispatcher(2, jobs, proc, zap.NewNop())
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain the channel")
	}

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.acks) != 1 || ack.acks[0] != 1 {
		t.Errorf("acks = %v, want [1]", ack.acks)
	}
	if len(ack.nacks) != 2 {
		t.Fatalf("nacks = %v, want 2", ack.nacks)
	}
	for i, tag := range ack.nacks {
		wantRequeue := tag == 2
		if ack.requeue[i] != wantRequeue {
			t.Errorf("tag %d requeue = %v, want %v", tag, ack.requeue[i], wantRequeue)
		}
	}
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	jobs := make(chan *domain.JobMessage)
	d := NewDispatcher(3, jobs, processorFunc(func(context.Context, *domain.JobMessage) (usecase.Outcome, error) {
		return usecase.OutcomeAck, nil
	}), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, maxReconnectDelay},
		{40, maxReconnectDelay},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
