package executor

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/metrics"
	"github.com/Harsh-BH/sentinel-judge/internal/sandbox"
	"github.com/Harsh-BH/sentinel-judge/internal/workspace"
)

// Program is a prepared submission: source written and, for compiled
// languages, built once. It can be run any number of times with different
// inputs and must be closed to release its workspace.
type Program struct {
	exec          *Executor
	recipe        domain.Recipe
	ws            *workspace.Workspace
	limits        domain.Limits
	compileResult *domain.ExecutionResult

	// admitted is set once the program got a pool slot. Later runs of
	// the same submission queue instead of being rejected as busy.
	admitted atomic.Bool
}

// Language returns the recipe id of the program.
func (p *Program) Language() string { return p.recipe.ID }

// Limits returns the effective run limits.
func (p *Program) Limits() domain.Limits { return p.limits }

// CompileResult returns the failed compilation result, or nil if the program
// compiled (or needs no compilation).
func (p *Program) CompileResult() *domain.ExecutionResult { return p.compileResult }

// Run executes the program with stdin. It must not be called when
// CompileResult is non-nil.
func (p *Program) Run(ctx context.Context, stdin string) (*domain.ExecutionResult, error) {
	if p.compileResult != nil {
		return p.compileResult, nil
	}

	res, err := p.exec.invoke(ctx, p.recipe, "run", &sandbox.Spec{
		Command: p.recipe.RunArgs(),
		WorkDir: p.ws.Dir,
		Stdin:   stdin,
		Limits:  p.limits,
		Image:   p.recipe.Image,
		Env:     p.recipe.Env,
	}, p.admitted.Load())
	if err != nil {
		return nil, err
	}
	p.admitted.Store(true)

	metrics.ExecutionsTotal.WithLabelValues(p.recipe.ID, res.Status()).Inc()
	p.exec.logger.Debug("program run completed",
		zap.String("language", p.recipe.ID),
		zap.String("workspace", p.ws.Dir),
		zap.String("status", res.Status()),
		zap.Int64("wall_time_ms", res.WallTimeMs),
	)
	return res, nil
}

// Close releases the program's workspace. It is safe to call more than once.
func (p *Program) Close() error {
	if err := p.ws.Release(); err != nil {
		p.exec.logger.Warn("failed to release workspace",
			zap.String("workspace", p.ws.Dir),
			zap.Error(err),
		)
		return err
	}
	return nil
}
