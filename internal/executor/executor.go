package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/metrics"
	"github.com/Harsh-BH/sentinel-judge/internal/sandbox"
	"github.com/Harsh-BH/sentinel-judge/internal/workspace"
)

const (
	defaultCompileTimeoutMs = 10000
	minCompileMemoryMb      = 512

	// Limits for filling a build cache at startup. Building a standard
	// library from scratch takes minutes on small hosts.
	warmTimeoutMs = 300000
	warmMemoryMb  = 2048
)

// RecipeResolver looks up language recipes.
type RecipeResolver interface {
	Resolve(id string) (domain.Recipe, error)
}

// Scheduler runs work under the global sandbox concurrency bound. Do
// rejects work when the queue is full; DoWait queues behind it and is used
// for programs that were already admitted.
type Scheduler interface {
	Do(ctx context.Context, fn func(context.Context) error) error
	DoWait(ctx context.Context, fn func(context.Context) error) error
}

// Executor turns source code into sandboxed runs: it resolves the language,
// prepares a private workspace, compiles when needed and runs the program.
type Executor struct {
	recipes    RecipeResolver
	workspaces *workspace.Manager
	sandbox    sandbox.Sandbox
	scheduler  Scheduler
	maxLimits  domain.Limits
	logger     *zap.Logger
}

// New creates an Executor. Non-zero fields of maxLimits cap whatever limits
// callers ask for.
func New(
	recipes RecipeResolver,
	workspaces *workspace.Manager,
	sb sandbox.Sandbox,
	scheduler Scheduler,
	maxLimits domain.Limits,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		recipes:    recipes,
		workspaces: workspaces,
		sandbox:    sb,
		scheduler:  scheduler,
		maxLimits:  maxLimits,
		logger:     logger,
	}
}

// Execute runs one ad-hoc program with the given stdin. User-code outcomes,
// compile errors included, come back as an ExecutionResult; only
// infrastructure faults are returned as errors.
func (e *Executor) Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	recipe, err := e.recipes.Resolve(req.LanguageID)
	if err != nil {
		return nil, err
	}
	limits := e.effectiveLimits(recipe, domain.Limits{TimeoutMs: req.TimeoutMs, MemoryLimitMb: req.MemoryLimitMb})

	var result *domain.ExecutionResult
	err = e.workspaces.With(func(ws *workspace.Workspace) error {
		prog, err := e.prepareIn(ctx, ws, recipe, req.SourceCode, limits)
		if err != nil {
			return err
		}
		if cr := prog.CompileResult(); cr != nil {
			result = cr
			return nil
		}
		result, err = prog.Run(ctx, req.Stdin)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Prepare writes the source into a fresh workspace and compiles it if the
// language needs it. The returned Program must be closed by the caller. A
// compile failure is not an error: it is reported by Program.CompileResult.
func (e *Executor) Prepare(ctx context.Context, source, languageID string, overrides domain.Limits) (*Program, error) {
	recipe, err := e.recipes.Resolve(languageID)
	if err != nil {
		return nil, err
	}
	limits := e.effectiveLimits(recipe, overrides)

	ws, err := e.workspaces.Acquire()
	if err != nil {
		e.logger.Error("failed to acquire workspace", zap.String("language", recipe.ID), zap.Error(err))
		return nil, err
	}

	prog, err := e.prepareIn(ctx, ws, recipe, source, limits)
	if err != nil {
		_ = ws.Release()
		return nil, err
	}
	return prog, nil
}

func (e *Executor) prepareIn(ctx context.Context, ws *workspace.Workspace, recipe domain.Recipe, source string, limits domain.Limits) (*Program, error) {
	if err := ws.WriteFile(recipe.SourceFileName(), []byte(source)); err != nil {
		return nil, fmt.Errorf("%w: write source: %v", domain.ErrWorkspaceUnavailable, err)
	}

	prog := &Program{
		exec:   e,
		recipe: recipe,
		ws:     ws,
		limits: limits,
	}

	if !recipe.Compiled() {
		return prog, nil
	}

	spec := &sandbox.Spec{
		Command: recipe.CompileArgs(),
		WorkDir: ws.Dir,
		Limits:  e.compileLimits(recipe, limits),
		Image:   recipe.Image,
		Env:     recipe.Env,
	}
	if recipe.BuildCache != "" {
		cache, err := e.workspaces.CacheDir(recipe.BuildCache)
		if err != nil {
			return nil, err
		}
		spec.CacheDir = cache
	}
	res, err := e.invoke(ctx, recipe, "compile", spec, false)
	if err != nil {
		return nil, err
	}
	prog.admitted.Store(true)
	if res.Failed() {
		res.CompileError = compileMessage(res)
		metrics.ExecutionsTotal.WithLabelValues(recipe.ID, res.Status()).Inc()
		e.logger.Debug("compilation failed",
			zap.String("language", recipe.ID),
			zap.String("workspace", ws.Dir),
			zap.Bool("timed_out", res.TimedOut),
		)
		prog.compileResult = res
	}
	return prog, nil
}

// invoke runs one sandbox invocation under the scheduler. With wait set it
// queues for a slot instead of failing with domain.ErrSystemBusy.
func (e *Executor) invoke(ctx context.Context, recipe domain.Recipe, phase string, spec *sandbox.Spec, wait bool) (*domain.ExecutionResult, error) {
	var res *domain.ExecutionResult
	run := func(ctx context.Context) error {
		var err error
		res, err = e.sandbox.Run(ctx, spec)
		return err
	}
	start := time.Now()
	var err error
	if wait {
		err = e.scheduler.DoWait(ctx, run)
	} else {
		err = e.scheduler.Do(ctx, run)
	}
	metrics.ExecutionDuration.WithLabelValues(recipe.ID, phase).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Warm runs the WarmCommand of every recipe that has one, filling its
// build cache so the first submissions do not compile the toolchain's
// libraries under their own time limit. It bypasses the scheduler and is
// meant to run once before the engine takes traffic.
func (e *Executor) Warm(ctx context.Context, recipes []domain.Recipe) error {
	var errs []error
	for _, recipe := range recipes {
		if len(recipe.WarmCommand) == 0 || recipe.BuildCache == "" {
			continue
		}
		if err := e.warm(ctx, recipe); err != nil {
			errs = append(errs, fmt.Errorf("warm %s: %w", recipe.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) warm(ctx context.Context, recipe domain.Recipe) error {
	cache, err := e.workspaces.CacheDir(recipe.BuildCache)
	if err != nil {
		return err
	}
	return e.workspaces.With(func(ws *workspace.Workspace) error {
		start := time.Now()
		res, err := e.sandbox.Run(ctx, &sandbox.Spec{
			Command:  recipe.WarmCommand,
			WorkDir:  ws.Dir,
			Limits:   domain.Limits{TimeoutMs: warmTimeoutMs, MemoryLimitMb: warmMemoryMb},
			Image:    recipe.Image,
			Env:      recipe.Env,
			CacheDir: cache,
		})
		if err != nil {
			return err
		}
		if res.Failed() {
			return fmt.Errorf("%s: %s", res.Status(), compileMessage(res))
		}
		e.logger.Info("Build cache warmed",
			zap.String("language", recipe.ID),
			zap.String("cache", cache),
			zap.Duration("took", time.Since(start)),
		)
		return nil
	})
}

// effectiveLimits applies recipe defaults for missing overrides and clamps
// the result to the configured maxima.
func (e *Executor) effectiveLimits(recipe domain.Recipe, overrides domain.Limits) domain.Limits {
	l := recipe.Limits(overrides.TimeoutMs, overrides.MemoryLimitMb)
	if e.maxLimits.TimeoutMs > 0 && l.TimeoutMs > e.maxLimits.TimeoutMs {
		l.TimeoutMs = e.maxLimits.TimeoutMs
	}
	if e.maxLimits.MemoryLimitMb > 0 && l.MemoryLimitMb > e.maxLimits.MemoryLimitMb {
		l.MemoryLimitMb = e.maxLimits.MemoryLimitMb
	}
	return l
}

// compileLimits gives compilers their own budget: the recipe's compile
// timeout and never less than minCompileMemoryMb.
func (e *Executor) compileLimits(recipe domain.Recipe, run domain.Limits) domain.Limits {
	l := domain.Limits{TimeoutMs: recipe.CompileTimeoutMs, MemoryLimitMb: run.MemoryLimitMb}
	if l.TimeoutMs <= 0 {
		l.TimeoutMs = defaultCompileTimeoutMs
	}
	if l.MemoryLimitMb < minCompileMemoryMb {
		l.MemoryLimitMb = minCompileMemoryMb
	}
	return l
}

func compileMessage(res *domain.ExecutionResult) string {
	switch {
	case res.TimedOut:
		return "Compilation timed out"
	case res.MemoryExceeded:
		return "Compilation exceeded memory limit"
	}
	msg := res.Stderr
	if msg == "" {
		msg = res.Stdout
	}
	if msg == "" && res.ExitCode != nil {
		msg = fmt.Sprintf("Compilation failed with exit code %d", *res.ExitCode)
	}
	return msg
}
