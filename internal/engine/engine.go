// Package engine assembles the execution stack shared by the API server and
// the queue worker: language registry, workspaces, sandbox backend, the
// bounded worker pool, the executor, the judge and the service boundary.
package engine

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/config"
	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/executor"
	"github.com/Harsh-BH/sentinel-judge/internal/judge"
	"github.com/Harsh-BH/sentinel-judge/internal/languages"
	"github.com/Harsh-BH/sentinel-judge/internal/pool"
	"github.com/Harsh-BH/sentinel-judge/internal/sandbox"
	"github.com/Harsh-BH/sentinel-judge/internal/service"
	"github.com/Harsh-BH/sentinel-judge/internal/workspace"
)

// imagePreloader is implemented by backends that can fetch their images
// ahead of the first run.
type imagePreloader interface {
	Preload(ctx context.Context, images []string) error
}

// Engine owns the long-lived execution components.
type Engine struct {
	Service   *service.Service
	Languages *languages.Registry
	Sandbox   sandbox.Sandbox

	exec   *executor.Executor
	pool   *pool.WorkerPool
	logger *zap.Logger
}

// Build wires the execution stack from cfg. A non-nil sb replaces the
// backend named in the configuration.
func Build(cfg *config.Config, sb sandbox.Sandbox, logger *zap.Logger) (*Engine, error) {
	registry, err := languages.NewRegistry(languages.WithImages(languages.Defaults(), cfg.Sandbox.Images)...)
	if err != nil {
		return nil, fmt.Errorf("build language registry: %w", err)
	}

	workspaces := workspace.NewManager(cfg.Workspace.Root, logger)
	if n, err := workspaces.Sweep(cfg.Workspace.SweepAge); err != nil {
		logger.Warn("Workspace sweep failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("Removed stale workspaces", zap.Int("count", n))
	}

	if sb == nil {
		sb, err = sandbox.New(cfg.Sandbox.SandboxOptions(), logger)
		if err != nil {
			return nil, fmt.Errorf("create sandbox: %w", err)
		}
	}

	workers := pool.NewWorkerPool(cfg.Sandbox.MaxConcurrency, cfg.Sandbox.QueueDepth, logger)
	maxLimits := domain.Limits{
		TimeoutMs:     cfg.Sandbox.MaxTimeoutMs,
		MemoryLimitMb: cfg.Sandbox.MaxMemoryMb,
	}
	exec := executor.New(registry, workspaces, sb, workers, maxLimits, logger)
	judger := judge.New(exec, logger)

	logger.Info("Execution engine ready",
		zap.String("sandbox", sb.Name()),
		zap.Int("max_concurrency", workers.Size()),
		zap.Int("languages", len(registry.List())),
	)

	return &Engine{
		Service:   service.New(registry, exec, judger, cfg.Judge.MaxTestCases, logger),
		Languages: registry,
		Sandbox:   sb,
		exec:      exec,
		pool:      workers,
		logger:    logger,
	}, nil
}

// Preload fetches the container image of every language when the backend
// supports it. It is a no-op for the process and nsjail backends.
func (e *Engine) Preload(ctx context.Context) error {
	p, ok := e.Sandbox.(imagePreloader)
	if !ok {
		return nil
	}
	recipes := e.Languages.List()
	images := make([]string, 0, len(recipes))
	for _, rec := range recipes {
		images = append(images, rec.Image)
	}
	return p.Preload(ctx, images)
}

// Warm fills the shared build caches of compiled languages. Call it after
// Preload and before taking traffic; a failure only makes early compiles
// slower.
func (e *Engine) Warm(ctx context.Context) error {
	return e.exec.Warm(ctx, e.Languages.List())
}

// Close drains the worker pool and releases the sandbox backend.
func (e *Engine) Close() {
	e.pool.Close()
	if c, ok := e.Sandbox.(io.Closer); ok {
		if err := c.Close(); err != nil {
			e.logger.Warn("Failed to close sandbox", zap.Error(err))
		}
	}
}
