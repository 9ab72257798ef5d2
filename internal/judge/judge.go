package judge

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/executor"
	"github.com/Harsh-BH/sentinel-judge/internal/metrics"
)

// Submission is one program to be judged against a set of test cases.
type Submission struct {
	SourceCode string
	LanguageID string
	TestCases  []domain.TestCase
	// Limits overrides the recipe defaults; zero fields keep the defaults.
	Limits domain.Limits
}

// Observer receives each test result as soon as it is known, in input order.
type Observer func(index int, result domain.TestCaseResult)

// Program is a compiled submission that can be run repeatedly.
type Program interface {
	CompileResult() *domain.ExecutionResult
	Run(ctx context.Context, stdin string) (*domain.ExecutionResult, error)
	Close() error
}

// Preparer compiles submissions into runnable programs.
type Preparer interface {
	Prepare(ctx context.Context, source, languageID string, limits domain.Limits) (Program, error)
}

type executorPreparer struct{ exec *executor.Executor }

func (p executorPreparer) Prepare(ctx context.Context, source, languageID string, limits domain.Limits) (Program, error) {
	prog, err := p.exec.Prepare(ctx, source, languageID, limits)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// Judge runs submissions against test cases and aggregates a Verdict.
type Judge struct {
	preparer Preparer
	logger   *zap.Logger
}

// New creates a Judge backed by exec.
func New(exec *executor.Executor, logger *zap.Logger) *Judge {
	return NewWithPreparer(executorPreparer{exec: exec}, logger)
}

// NewWithPreparer creates a Judge with a custom Preparer.
func NewWithPreparer(p Preparer, logger *zap.Logger) *Judge {
	return &Judge{preparer: p, logger: logger}
}

// Judge compiles the submission once and runs every test case in order.
// It never stops early: later tests run even after earlier failures. Only
// infrastructure faults are returned as errors.
func (j *Judge) Judge(ctx context.Context, sub Submission, observe Observer) (*domain.Verdict, error) {
	if len(sub.TestCases) == 0 {
		return nil, domain.ErrNoTestCases
	}

	prog, err := j.preparer.Prepare(ctx, sub.SourceCode, sub.LanguageID, sub.Limits)
	if err != nil {
		return nil, err
	}
	defer prog.Close()

	if cr := prog.CompileResult(); cr != nil {
		v := compileErrorVerdict(len(sub.TestCases), cr.CompileError)
		j.record(sub.LanguageID, v)
		return v, nil
	}

	results := make([]domain.TestCaseResult, 0, len(sub.TestCases))
	for i, tc := range sub.TestCases {
		res, err := prog.Run(ctx, tc.Input)
		if err != nil {
			return nil, fmt.Errorf("run test %d: %w", i+1, err)
		}
		tr := evaluate(tc, res)
		results = append(results, tr)
		if observe != nil {
			observe(i, tr)
		}
	}

	summary := summarize(results)
	v := &domain.Verdict{
		Success: summary.Status == domain.StatusAccepted,
		Results: results,
		Summary: summary,
	}
	j.record(sub.LanguageID, v)
	return v, nil
}

func (j *Judge) record(language string, v *domain.Verdict) {
	metrics.VerdictsTotal.WithLabelValues(language, string(v.Summary.Status)).Inc()
	j.logger.Debug("submission judged",
		zap.String("language", language),
		zap.String("status", string(v.Summary.Status)),
		zap.Int("passed", v.Summary.PassedTests),
		zap.Int("total", v.Summary.TotalTests),
	)
}

// evaluate turns one run into a TestCaseResult. Timed-out and
// memory-exceeded runs fail without comparing output; otherwise output
// alone decides Passed and a non-zero exit is kept as diagnostic context.
func evaluate(tc domain.TestCase, res *domain.ExecutionResult) domain.TestCaseResult {
	tr := domain.TestCaseResult{
		TestCase:        tc,
		ActualOutput:    res.Stdout,
		ExecutionTimeMs: res.WallTimeMs,
		MemoryUsedKB:    res.MemoryUsedKB,
		TimedOut:        res.TimedOut,
		MemoryExceeded:  res.MemoryExceeded,
		ExitCode:        res.ExitCode,
	}

	switch {
	case res.TimedOut:
		tr.Error = "Time limit exceeded"
	case res.MemoryExceeded:
		tr.Error = "Memory limit exceeded"
	default:
		tr.Passed = OutputsMatch(res.Stdout, tc.ExpectedOutput)
		if res.ExitCode != nil && *res.ExitCode != 0 {
			tr.Error = runtimeMessage(res)
		}
	}
	return tr
}

func runtimeMessage(res *domain.ExecutionResult) string {
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("Process exited with code %d", *res.ExitCode)
}

// erroredAtRuntime reports whether a failed test crashed rather than
// producing a wrong answer.
func erroredAtRuntime(tr domain.TestCaseResult) bool {
	if tr.Passed {
		return false
	}
	return tr.MemoryExceeded || (tr.ExitCode != nil && *tr.ExitCode != 0)
}

func summarize(results []domain.TestCaseResult) domain.Summary {
	s := domain.Summary{TotalTests: len(results)}

	var totalTime int64
	anyTimeout, anyRuntime := false, false
	for _, r := range results {
		if r.Passed {
			s.PassedTests++
		}
		if r.TimedOut {
			anyTimeout = true
		}
		if erroredAtRuntime(r) {
			anyRuntime = true
		}
		totalTime += r.ExecutionTimeMs
	}

	if s.TotalTests > 0 {
		s.SuccessRatePercent = round2(float64(s.PassedTests) / float64(s.TotalTests) * 100)
		s.AvgExecutionTimeMs = round2(float64(totalTime) / float64(s.TotalTests))
	}

	switch {
	case anyTimeout:
		s.Status = domain.StatusTimeLimitExceeded
	case anyRuntime:
		s.Status = domain.StatusRuntimeError
	case s.PassedTests == s.TotalTests:
		s.Status = domain.StatusAccepted
	default:
		s.Status = domain.StatusWrongAnswer
	}
	return s
}

func compileErrorVerdict(total int, msg string) *domain.Verdict {
	return &domain.Verdict{
		Success: false,
		Results: []domain.TestCaseResult{},
		Summary: domain.Summary{
			TotalTests: total,
			Status:     domain.StatusCompileError,
		},
		CompileError: msg,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
