package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/judge"
)

const maxSourceCodeSize = 1 << 20 // 1 MB

// Executor runs one ad-hoc program.
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResult, error)
}

// Judger judges a submission against test cases.
type Judger interface {
	Judge(ctx context.Context, sub judge.Submission, observe judge.Observer) (*domain.Verdict, error)
}

// LanguageLister lists the configured recipes.
type LanguageLister interface {
	List() []domain.Recipe
}

// LanguageInfo is the public view of a recipe.
type LanguageInfo struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Version              string `json:"version"`
	FileExtension        string `json:"fileExtension"`
	DefaultTimeoutMs     int    `json:"defaultTimeoutMs"`
	DefaultMemoryLimitMb int    `json:"defaultMemoryLimitMb"`
	Compiled             bool   `json:"compiled"`
}

// ExecuteRequest is the wire form of an ad-hoc run.
type ExecuteRequest struct {
	Code          string `json:"code"`
	Language      string `json:"language"`
	Input         string `json:"input,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
	MemoryLimitMb int    `json:"memoryLimitMb,omitempty"`
}

// ExecuteResponse is the wire form of an ExecutionResult.
type ExecuteResponse struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        *int   `json:"exitCode"`
	TimedOut        bool   `json:"timedOut"`
	MemoryExceeded  bool   `json:"memoryExceeded"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	MemoryUsedKB    int64  `json:"memoryUsedKb"`
	CompileError    string `json:"compileError,omitempty"`
}

// JudgeRequest is the wire form of a judge submission.
type JudgeRequest struct {
	Code          string            `json:"code"`
	Language      string            `json:"language"`
	TestCases     []domain.TestCase `json:"testCases"`
	TimeoutMs     int               `json:"timeoutMs,omitempty"`
	MemoryLimitMb int               `json:"memoryLimitMb,omitempty"`
}

// Service is the boundary used by the HTTP and queue deliveries. It
// validates requests, delegates to the executor and the judge, and applies
// hidden-test redaction to everything it hands back.
type Service struct {
	languages    LanguageLister
	executor     Executor
	judge        Judger
	maxTestCases int
	logger       *zap.Logger
}

// New creates a Service. maxTestCases <= 0 disables the test count check.
func New(languages LanguageLister, exec Executor, judger Judger, maxTestCases int, logger *zap.Logger) *Service {
	return &Service{
		languages:    languages,
		executor:     exec,
		judge:        judger,
		maxTestCases: maxTestCases,
		logger:       logger,
	}
}

// Languages returns the supported languages sorted by id.
func (s *Service) Languages() []LanguageInfo {
	recipes := s.languages.List()
	infos := make([]LanguageInfo, 0, len(recipes))
	for _, r := range recipes {
		infos = append(infos, LanguageInfo{
			ID:                   r.ID,
			Name:                 r.Name,
			Version:              r.Version,
			FileExtension:        r.FileExtension,
			DefaultTimeoutMs:     r.DefaultTimeoutMs,
			DefaultMemoryLimitMb: r.DefaultMemoryLimitMb,
			Compiled:             r.Compiled(),
		})
	}
	return infos
}

// Execute validates and runs an ad-hoc program.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	if err := validateCode(req.Code); err != nil {
		return nil, err
	}

	res, err := s.executor.Execute(ctx, domain.ExecutionRequest{
		SourceCode:    req.Code,
		LanguageID:    req.Language,
		Stdin:         req.Input,
		TimeoutMs:     req.TimeoutMs,
		MemoryLimitMb: req.MemoryLimitMb,
	})
	if err != nil {
		s.logFailure("execute", req.Language, err)
		return nil, err
	}

	return &ExecuteResponse{
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		ExitCode:        res.ExitCode,
		TimedOut:        res.TimedOut,
		MemoryExceeded:  res.MemoryExceeded,
		ExecutionTimeMs: res.WallTimeMs,
		MemoryUsedKB:    res.MemoryUsedKB,
		CompileError:    res.CompileError,
	}, nil
}

// Judge validates the request and judges it. Both the per-test observer and
// the returned verdict only ever see redacted hidden tests.
func (s *Service) Judge(ctx context.Context, req JudgeRequest, observe judge.Observer) (*domain.Verdict, error) {
	if err := validateCode(req.Code); err != nil {
		return nil, err
	}
	if len(req.TestCases) == 0 {
		return nil, domain.ErrNoTestCases
	}
	if s.maxTestCases > 0 && len(req.TestCases) > s.maxTestCases {
		return nil, fmt.Errorf("%w: got %d, max %d", domain.ErrTooManyTestCases, len(req.TestCases), s.maxTestCases)
	}

	var redacted judge.Observer
	if observe != nil {
		redacted = func(i int, r domain.TestCaseResult) {
			observe(i, RedactResult(r))
		}
	}

	v, err := s.judge.Judge(ctx, judge.Submission{
		SourceCode: req.Code,
		LanguageID: req.Language,
		TestCases:  req.TestCases,
		Limits:     domain.Limits{TimeoutMs: req.TimeoutMs, MemoryLimitMb: req.MemoryLimitMb},
	}, redacted)
	if err != nil {
		s.logFailure("judge", req.Language, err)
		return nil, err
	}
	return Redact(v), nil
}

func (s *Service) logFailure(op, language string, err error) {
	kind := domain.KindOf(err)
	if kind.IsInfra() {
		s.logger.Error("execution failed",
			zap.String("op", op),
			zap.String("language", language),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("request rejected",
		zap.String("op", op),
		zap.String("language", language),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}

func validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return domain.ErrEmptySourceCode
	}
	if len(code) > maxSourceCodeSize {
		return domain.ErrPayloadTooLarge
	}
	return nil
}
