// Package sandbox runs untrusted programs under time and memory limits.
//
// Three backends implement the same contract: an nsjail jail (the default),
// a Docker container and a native child process. The process backend does
// not confine the filesystem and is only built when explicitly allowed. The
// backend is chosen once at startup; callers only ever see the Sandbox
// interface.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/metrics"
)

const (
	BackendProcess = "process"
	BackendNsjail  = "nsjail"
	BackendDocker  = "docker"
)

// Spec describes one sandbox invocation.
type Spec struct {
	// Command is the argv to execute. Relative program paths are resolved
	// against the working directory.
	Command []string
	// WorkDir is the host directory the program runs in. It is the only
	// location the program may write to.
	WorkDir string
	Stdin   string
	Limits  domain.Limits
	// Image is the container image; only the docker backend uses it.
	Image string
	// Env holds extra KEY=VALUE pairs. domain.WorkDirPlaceholder and
	// domain.CachePlaceholder are expanded to the directories as seen from
	// inside the sandbox.
	Env []string
	// CacheDir is a host directory shared between runs, mounted read-write
	// at mountedCacheDir. Empty means no shared cache.
	CacheDir string
}

// mountedCacheDir is where Spec.CacheDir appears inside jails and containers.
const mountedCacheDir = "/tmp/cache"

// ErrUnconfined is returned by New for the process backend unless
// Options.AllowUnconfined is set.
var ErrUnconfined = errors.New("the process backend does not confine the filesystem; enable it explicitly for development only")

// Sandbox runs a single program to completion.
//
// Run returns an ExecutionResult for every outcome of the user program,
// including crashes, timeouts and memory kills. An error is returned only
// when the program could not be launched (wrapping domain.ErrSandboxLaunch)
// or when ctx was cancelled by the caller.
type Sandbox interface {
	Run(ctx context.Context, spec *Spec) (*domain.ExecutionResult, error)
	Name() string
}

// Options configures backend construction.
type Options struct {
	Backend        string
	NsjailPath     string
	NsjailConfig   string
	IsolateNetwork bool
	PidsLimit      int64
	DockerPull     bool
	MemoryPoll     time.Duration
	// AllowUnconfined permits the process backend. Programs it runs share
	// the host filesystem with the server.
	AllowUnconfined bool
}

// New builds the backend named by opts.Backend.
func New(opts Options, logger *zap.Logger) (Sandbox, error) {
	switch opts.Backend {
	case BackendProcess:
		if !opts.AllowUnconfined {
			return nil, ErrUnconfined
		}
		logger.Warn("process sandbox backend enabled: submissions are not confined to their workspace")
		return NewProcessSandbox(opts.IsolateNetwork, opts.MemoryPoll, logger), nil
	case BackendNsjail, "":
		return NewNsjailSandbox(opts.NsjailPath, opts.NsjailConfig, opts.PidsLimit, logger), nil
	case BackendDocker:
		return NewDockerSandbox(opts.PidsLimit, opts.DockerPull, logger)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", opts.Backend)
	}
}

// launchError records an infrastructure failure and wraps it so callers can
// match domain.ErrSandboxLaunch.
func launchError(logger *zap.Logger, backend string, err error) error {
	metrics.SandboxFailures.WithLabelValues(backend).Inc()
	logger.Error("sandbox launch failed",
		zap.String("backend", backend),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s: %v", domain.ErrSandboxLaunch, backend, err)
}

func timeoutOf(l domain.Limits) time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

// expandEnv substitutes the workspace and cache placeholders in env with
// their sandbox-visible paths. Without a cache the cache placeholder points
// into the workspace.
func expandEnv(env []string, workDir, cacheDir string) []string {
	if cacheDir == "" {
		cacheDir = workDir + "/.cache"
	}
	r := strings.NewReplacer(domain.WorkDirPlaceholder, workDir, domain.CachePlaceholder, cacheDir)
	out := make([]string, len(env))
	for i, kv := range env {
		out[i] = r.Replace(kv)
	}
	return out
}

// mountedCache returns the in-sandbox cache path for backends that mount
// Spec.CacheDir at mountedCacheDir.
func (s *Spec) mountedCache() string {
	if s.CacheDir == "" {
		return ""
	}
	return mountedCacheDir
}
