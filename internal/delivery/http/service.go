package http

import (
	"context"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/judge"
	"github.com/Harsh-BH/sentinel-judge/internal/service"
)

// Service is the part of service.Service the handlers need.
type Service interface {
	Languages() []service.LanguageInfo
	Execute(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResponse, error)
	Judge(ctx context.Context, req service.JudgeRequest, observe judge.Observer) (*domain.Verdict, error)
}

var _ Service = (*service.Service)(nil)
