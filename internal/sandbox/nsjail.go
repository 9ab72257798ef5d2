package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

// jailWorkDir is where the workspace is mounted inside the jail.
const jailWorkDir = "/tmp/work"

// NsjailSandbox runs code inside an nsjail sandbox.
type NsjailSandbox struct {
	nsjailPath string
	configPath string
	pidsLimit  int64
	logger     *zap.Logger
}

// NewNsjailSandbox creates a new nsjail backend. configPath is optional; when
// set it is passed to nsjail before the per-run flags, which take precedence.
func NewNsjailSandbox(nsjailPath, configPath string, pidsLimit int64, logger *zap.Logger) *NsjailSandbox {
	return &NsjailSandbox{
		nsjailPath: nsjailPath,
		configPath: configPath,
		pidsLimit:  pidsLimit,
		logger:     logger,
	}
}

func (s *NsjailSandbox) Name() string { return BackendNsjail }

// Run executes spec.Command in a fresh jail with the workspace bind-mounted
// read-write and the rest of the filesystem read-only.
func (s *NsjailSandbox) Run(ctx context.Context, spec *Spec) (*domain.ExecutionResult, error) {
	if len(spec.Command) == 0 {
		return nil, launchError(s.logger, BackendNsjail, errors.New("empty command"))
	}

	execArgs, err := s.resolveCommand(spec.Command)
	if err != nil {
		return nil, launchError(s.logger, BackendNsjail, err)
	}

	args := s.buildArgs(spec, execArgs)

	run, err := runGroup(ctx, groupCmd{
		path:    s.nsjailPath,
		args:    args,
		dir:     spec.WorkDir,
		env:     baseEnv(spec.WorkDir),
		stdin:   spec.Stdin,
		timeout: timeoutOf(spec.Limits),
	})
	if err != nil {
		var le *errLaunch
		if errors.As(err, &le) {
			return nil, launchError(s.logger, BackendNsjail, fmt.Errorf("start nsjail: %w", le.err))
		}
		return nil, err
	}

	progStderr, nsjailLog := splitJailLog(run.stderr.String())
	if run.stderr.truncated {
		progStderr = truncateOutput(progStderr, true)
	}

	result := run.result(progStderr)

	s.logger.Debug("nsjail execution completed",
		zap.String("workspace", spec.WorkDir),
		zap.Int64("wall_time_ms", result.WallTimeMs),
		zap.Int64("memory_used_kb", result.MemoryUsedKB),
		zap.String("nsjail_log", nsjailLog),
	)

	if result.TimedOut || result.ExitCode == nil {
		return result, nil
	}

	code := *result.ExitCode
	switch {
	case isNsjailSetupFailure(code, nsjailLog):
		return nil, launchError(s.logger, BackendNsjail, fmt.Errorf("jail setup failed: %s", lastLine(nsjailLog)))
	case isTimeLimitHit(nsjailLog):
		result.TimedOut = true
		result.ExitCode = nil
	case isMemoryKill(code, nsjailLog):
		result.MemoryExceeded = true
		result.ExitCode = nil
	}
	return result, nil
}

func (s *NsjailSandbox) buildArgs(spec *Spec, execArgs []string) []string {
	// --time_limit is a coarse backstop in whole seconds; the precise
	// watchdog is the context deadline in runGroup.
	timeLimitSec := spec.Limits.TimeoutMs/1000 + 1

	var args []string
	if s.configPath != "" {
		args = append(args, "--config", s.configPath)
	}
	args = append(args,
		"--mode", "o",
		"--chroot", "/",
	)
	// The host root is shared read-only. Empty tmpfs layers hide /tmp and
	// the workspace root so one run cannot read another's workspace or the
	// shared build cache; the mounts below are made on top of them.
	for _, dir := range maskedDirs(spec.WorkDir) {
		args = append(args, "--tmpfsmount", dir)
	}
	args = append(args, "--bindmount", spec.WorkDir+":"+jailWorkDir)
	if spec.CacheDir != "" {
		args = append(args, "--bindmount", spec.CacheDir+":"+mountedCacheDir)
	}
	args = append(args,
		"--cwd", jailWorkDir,
		"--time_limit", strconv.Itoa(timeLimitSec),
		"--cgroup_mem_max", strconv.FormatInt(spec.Limits.MemoryLimitBytes(), 10),
		"--rlimit_as", "max",
		"--rlimit_fsize", strconv.Itoa(maxFileBytes/(1024*1024)),
		"--rlimit_nofile", "64",
		"--env", "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"--env", "HOME="+jailWorkDir,
		"--env", "LANG=C.UTF-8",
	)
	if s.pidsLimit > 0 {
		args = append(args, "--cgroup_pids_max", strconv.FormatInt(s.pidsLimit, 10))
	}
	for _, kv := range expandEnv(spec.Env, jailWorkDir, spec.mountedCache()) {
		args = append(args, "--env", kv)
	}
	args = append(args, "--")
	return append(args, execArgs...)
}

// resolveCommand turns a bare program name into an absolute path, since the
// jail executes argv[0] without a PATH lookup. The jail shares the host root
// read-only, so host paths are valid inside it.
func (s *NsjailSandbox) resolveCommand(command []string) ([]string, error) {
	out := append([]string(nil), command...)
	if strings.ContainsRune(out[0], '/') {
		return out, nil
	}
	p, err := exec.LookPath(out[0])
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", out[0], err)
	}
	out[0] = p
	return out, nil
}

// maskedDirs lists the directories covered by an empty tmpfs inside the
// jail: /tmp and, when it lies elsewhere, the workspace root.
func maskedDirs(workDir string) []string {
	dirs := []string{"/tmp"}
	root := filepath.Dir(workDir)
	if root != "/" && root != "/tmp" && !strings.HasPrefix(root, "/tmp/") {
		dirs = append(dirs, root)
	}
	return dirs
}

// jailLogTags are the level prefixes nsjail writes its own log lines with.
var jailLogTags = [...]string{"[D]", "[I]", "[W]", "[E]", "[F]"}

// splitJailLog separates nsjail's log lines from the program's stderr. Both
// arrive interleaved on the same stream.
func splitJailLog(stderr string) (program, jail string) {
	if stderr == "" {
		return "", ""
	}
	var prog, log []string
	for _, line := range strings.Split(stderr, "\n") {
		if isJailLogLine(line) {
			log = append(log, line)
			continue
		}
		prog = append(prog, line)
	}
	return strings.Join(prog, "\n"), strings.Join(log, "\n")
}

func isJailLogLine(line string) bool {
	line = strings.TrimLeft(line, " \t")
	for _, tag := range jailLogTags {
		if strings.HasPrefix(line, tag) {
			return true
		}
	}
	return false
}

// memoryKillMarkers are kernel and nsjail phrases that only appear when the
// memory cgroup killed the program.
var memoryKillMarkers = [...]string{"oom-kill", "oom_kill", "oom killer", "out of memory"}

// isMemoryKill reports whether the cgroup memory limit killed the program.
// The kernel's OOM killer sends SIGKILL, which the jail reports as 137; the
// jail's own time limit is matched before this is consulted.
func isMemoryKill(exitCode int, jailLog string) bool {
	if exitCode == 128+int(syscall.SIGKILL) {
		return true
	}
	for _, line := range strings.Split(jailLog, "\n") {
		lower := strings.ToLower(line)
		for _, marker := range memoryKillMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// isTimeLimitHit reports whether nsjail killed the child for exceeding
// --time_limit.
func isTimeLimitHit(nsjailLog string) bool {
	return strings.Contains(strings.ToLower(nsjailLog), "run time >= time limit")
}

// isNsjailSetupFailure reports whether nsjail itself failed before the
// program could start (bad flags, missing cgroup controller, no privileges).
// nsjail exits with 255 and logs a fatal line in that case.
func isNsjailSetupFailure(exitCode int, nsjailLog string) bool {
	if exitCode != 255 {
		return false
	}
	for _, line := range strings.Split(nsjailLog, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "[F]") {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
