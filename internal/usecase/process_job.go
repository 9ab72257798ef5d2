package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/judge"
	"github.com/Harsh-BH/sentinel-judge/internal/metrics"
	"github.com/Harsh-BH/sentinel-judge/internal/repository"
	"github.com/Harsh-BH/sentinel-judge/internal/service"
)

// ErrMalformedJob is returned for messages that cannot be decoded.
var ErrMalformedJob = errors.New("malformed job message")

// JobRequest is the body of a queued job.
type JobRequest struct {
	Kind    domain.JobKind          `json:"kind"`
	Execute *service.ExecuteRequest `json:"execute,omitempty"`
	Judge   *service.JudgeRequest   `json:"judge,omitempty"`
}

// JobError is the error part of a reply.
type JobError struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// JobReply is published to the job's reply queue.
type JobReply struct {
	Kind    domain.JobKind           `json:"kind"`
	Execute *service.ExecuteResponse `json:"execute,omitempty"`
	Verdict *domain.Verdict          `json:"verdict,omitempty"`
	Error   *JobError                `json:"error,omitempty"`
}

// Outcome tells the consumer how to settle a message.
type Outcome string

const (
	OutcomeAck     Outcome = "ack"
	OutcomeRequeue Outcome = "requeue"
	OutcomeReject  Outcome = "reject" // nack without requeue, goes to the DLQ
)

// Service is the part of service.Service jobs need.
type Service interface {
	Execute(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResponse, error)
	Judge(ctx context.Context, req service.JudgeRequest, observe judge.Observer) (*domain.Verdict, error)
}

// ReplyPublisher sends job replies back to the requester.
type ReplyPublisher interface {
	Reply(ctx context.Context, replyTo, correlationID string, reply *JobReply) error
}

// ProcessJobUsecase orchestrates one queued job: idempotency check → run → reply.
type ProcessJobUsecase struct {
	svc        Service
	idempotent repository.IdempotencyStore
	replies    ReplyPublisher
	logger     *zap.Logger
}

// NewProcessJobUsecase creates a new ProcessJobUsecase.
func NewProcessJobUsecase(
	svc Service,
	idempotent repository.IdempotencyStore,
	replies ReplyPublisher,
	logger *zap.Logger,
) *ProcessJobUsecase {
	return &ProcessJobUsecase{
		svc:        svc,
		idempotent: idempotent,
		replies:    replies,
		logger:     logger,
	}
}

// Process handles a single message and reports how it must be settled.
// Duplicates and client errors are acknowledged, backpressure is requeued,
// and infrastructure faults go to the dead letter queue.
func (uc *ProcessJobUsecase) Process(ctx context.Context, msg *domain.JobMessage) (Outcome, error) {
	req, err := decodeJob(msg.Body)
	if err != nil {
		uc.logger.Error("Failed to decode job", zap.String("job_id", msg.ID), zap.Error(err))
		metrics.JobsTotal.WithLabelValues("unknown", string(OutcomeReject)).Inc()
		return OutcomeReject, err
	}

	outcome, err := uc.process(ctx, msg, req)
	metrics.JobsTotal.WithLabelValues(string(req.Kind), string(outcome)).Inc()
	return outcome, err
}

func (uc *ProcessJobUsecase) process(ctx context.Context, msg *domain.JobMessage, req *JobRequest) (Outcome, error) {
	log := uc.logger.With(
		zap.String("job_id", msg.ID),
		zap.String("kind", string(req.Kind)),
	)

	// Step 1: Idempotency check
	if msg.ID != "" {
		acquired, err := uc.idempotent.AcquireLock(ctx, msg.ID)
		if err != nil {
			log.Error("Failed to acquire idempotency lock", zap.Error(err))
			return OutcomeRequeue, err
		}
		if !acquired {
			log.Info("Duplicate message detected, skipping", zap.Bool("redelivered", msg.Redelivered))
			return OutcomeAck, nil
		}
	}

	// Step 2: Run
	reply, err := uc.run(ctx, req)
	if err != nil {
		kind := domain.KindOf(err)
		switch {
		case ctx.Err() != nil:
			log.Info("Job interrupted by shutdown, requeueing")
			uc.forget(context.WithoutCancel(ctx), msg.ID)
			return OutcomeRequeue, err
		case kind == domain.KindSystemBusy:
			log.Warn("Sandbox pool saturated, requeueing job")
			uc.forget(ctx, msg.ID)
			return OutcomeRequeue, err
		case kind.IsInfra():
			log.Error("Job failed", zap.String("error_kind", string(kind)), zap.Error(err))
			_ = uc.reply(ctx, msg, &JobReply{Kind: req.Kind, Error: &JobError{Kind: kind, Message: "Execution failed, please try again"}})
			uc.release(ctx, msg.ID)
			return OutcomeReject, err
		default:
			log.Info("Job rejected", zap.String("error_kind", string(kind)), zap.Error(err))
			reply = &JobReply{Kind: req.Kind, Error: &JobError{Kind: kind, Message: err.Error()}}
		}
	}

	// Step 3: Reply
	if err := uc.reply(ctx, msg, reply); err != nil {
		uc.forget(ctx, msg.ID)
		return OutcomeRequeue, err
	}

	// Step 4: Release idempotency lock (set TTL for eventual cleanup)
	uc.release(ctx, msg.ID)

	log.Info("Job processed successfully")
	return OutcomeAck, nil
}

func decodeJob(body []byte) (*JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	switch {
	case req.Kind == domain.JobKindExecute && req.Execute != nil:
	case req.Kind == domain.JobKindJudge && req.Judge != nil:
	default:
		return nil, fmt.Errorf("%w: kind %q without matching payload", ErrMalformedJob, req.Kind)
	}
	return &req, nil
}

func (uc *ProcessJobUsecase) run(ctx context.Context, req *JobRequest) (*JobReply, error) {
	switch req.Kind {
	case domain.JobKindExecute:
		resp, err := uc.svc.Execute(ctx, *req.Execute)
		if err != nil {
			return nil, err
		}
		return &JobReply{Kind: req.Kind, Execute: resp}, nil
	default:
		verdict, err := uc.svc.Judge(ctx, *req.Judge, nil)
		if err != nil {
			return nil, err
		}
		return &JobReply{Kind: req.Kind, Verdict: verdict}, nil
	}
}

// reply publishes to the message's reply queue, if it has one.
func (uc *ProcessJobUsecase) reply(ctx context.Context, msg *domain.JobMessage, reply *JobReply) error {
	if msg.ReplyTo == "" {
		return nil
	}
	if err := uc.replies.Reply(ctx, msg.ReplyTo, msg.CorrelationID, reply); err != nil {
		uc.logger.Error("Failed to publish reply",
			zap.String("job_id", msg.ID),
			zap.String("reply_to", msg.ReplyTo),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (uc *ProcessJobUsecase) release(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := uc.idempotent.ReleaseLock(ctx, id); err != nil {
		uc.logger.Warn("Failed to release idempotency lock", zap.String("job_id", id), zap.Error(err))
	}
}

func (uc *ProcessJobUsecase) forget(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := uc.idempotent.Forget(ctx, id); err != nil {
		uc.logger.Warn("Failed to drop idempotency lock", zap.String("job_id", id), zap.Error(err))
	}
}
