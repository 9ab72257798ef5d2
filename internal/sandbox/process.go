package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

const (
	defaultMemoryPoll = 10 * time.Millisecond

	// maxFileBytes caps any single file the program writes.
	maxFileBytes = 64 * 1024 * 1024
)

// ProcessSandbox runs programs as native child processes. Each run gets its
// own process group, killed as a unit. Memory is enforced by sampling the
// summed resident set size of every process in the group from /proc.
//
// The child shares the host filesystem, so this backend is for development
// hosts without nsjail or Docker.
type ProcessSandbox struct {
	isolateNetwork bool
	memoryPoll     time.Duration
	proc           procfs.FS
	procErr        error
	logger         *zap.Logger
}

// NewProcessSandbox creates a native process backend. With isolateNetwork
// the child is placed in fresh user and network namespaces and has no
// network interfaces besides loopback.
func NewProcessSandbox(isolateNetwork bool, memoryPoll time.Duration, logger *zap.Logger) *ProcessSandbox {
	if memoryPoll <= 0 {
		memoryPoll = defaultMemoryPoll
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Warn("procfs unavailable, memory is only checked after exit", zap.Error(err))
	}
	return &ProcessSandbox{
		isolateNetwork: isolateNetwork,
		memoryPoll:     memoryPoll,
		proc:           fs,
		procErr:        err,
		logger:         logger,
	}
}

func (s *ProcessSandbox) Name() string { return BackendProcess }

// Run executes spec.Command inside spec.WorkDir.
func (s *ProcessSandbox) Run(ctx context.Context, spec *Spec) (*domain.ExecutionResult, error) {
	if len(spec.Command) == 0 {
		return nil, launchError(s.logger, BackendProcess, errors.New("empty command"))
	}

	path := spec.Command[0]
	if strings.ContainsRune(path, '/') && !filepath.IsAbs(path) {
		path = filepath.Join(spec.WorkDir, path)
	}

	env := append(baseEnv(spec.WorkDir), expandEnv(spec.Env, spec.WorkDir, spec.CacheDir)...)
	limitBytes := spec.Limits.MemoryLimitBytes()

	run, err := runGroup(ctx, groupCmd{
		path:    path,
		args:    spec.Command[1:],
		dir:     spec.WorkDir,
		env:     env,
		stdin:   spec.Stdin,
		sys:     s.sysProcAttr(),
		timeout: timeoutOf(spec.Limits),
		watch:   s.memoryWatch(limitBytes),
		started: s.applyRlimits,
	})
	if err != nil {
		var le *errLaunch
		if errors.As(err, &le) {
			return nil, launchError(s.logger, BackendProcess, fmt.Errorf("start %s: %w", spec.Command[0], le.err))
		}
		return nil, err
	}

	result := run.result(run.stderr.Output())
	// A spike between two samples is still caught by the kernel's peak figure.
	if limitBytes > 0 && result.MemoryUsedKB*1024 > limitBytes {
		result.MemoryExceeded = true
	}

	s.logger.Debug("process execution completed",
		zap.String("workspace", spec.WorkDir),
		zap.Int64("wall_time_ms", result.WallTimeMs),
		zap.Int64("memory_used_kb", result.MemoryUsedKB),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("memory_exceeded", result.MemoryExceeded),
	)
	return result, nil
}

func (s *ProcessSandbox) sysProcAttr() *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{}
	if s.isolateNetwork {
		uid, gid := os.Getuid(), os.Getgid()
		attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: uid, HostID: uid, Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: gid, HostID: gid, Size: 1}}
	}
	return attr
}

// applyRlimits tightens limits the kernel can enforce directly on the
// freshly started child.
func (s *ProcessSandbox) applyRlimits(pid int) {
	limits := []struct {
		resource int
		value    uint64
	}{
		{unix.RLIMIT_CORE, 0},
		{unix.RLIMIT_FSIZE, maxFileBytes},
	}
	for _, l := range limits {
		rl := unix.Rlimit{Cur: l.value, Max: l.value}
		if err := unix.Prlimit(pid, l.resource, &rl, nil); err != nil {
			s.logger.Debug("failed to apply rlimit", zap.Int("pid", pid), zap.Int("resource", l.resource), zap.Error(err))
		}
	}
}

// memoryWatch samples the RSS of the child's process group and reports
// when the total crosses limitBytes. Descendants count towards the cap, so
// forking or shelling out does not escape it.
func (s *ProcessSandbox) memoryWatch(limitBytes int64) watchFunc {
	if limitBytes <= 0 || s.procErr != nil {
		return nil
	}
	return func(pgid int, done <-chan struct{}) bool {
		ticker := time.NewTicker(s.memoryPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return false
			case <-ticker.C:
				rss, err := groupRSS(s.proc, pgid)
				if err != nil {
					s.logger.Debug("failed to sample group memory", zap.Int("pgid", pgid), zap.Error(err))
					continue
				}
				if rss > limitBytes {
					return true
				}
			}
		}
	}
}

// groupRSS sums the resident memory of every process whose process group
// is pgid.
func groupRSS(fs procfs.FS, pgid int) (int64, error) {
	procs, err := fs.AllProcs()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue // exited since the listing
		}
		if stat.PGRP == pgid {
			total += int64(stat.ResidentMemory())
		}
	}
	return total, nil
}
