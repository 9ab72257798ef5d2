package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

// waitDelay bounds how long Wait keeps draining pipes after the process
// group has been killed. Orphans that escaped the group cannot hold a run
// open longer than this.
const waitDelay = 500 * time.Millisecond

// watchFunc observes a running process. It returns true when the process
// must be killed for exceeding its memory cap, and false when done is
// closed or the process disappears.
type watchFunc func(pid int, done <-chan struct{}) bool

// groupRun is the outcome of one child process run in its own process group.
type groupRun struct {
	stdout    *limitedBuffer
	stderr    *limitedBuffer
	state     *os.ProcessState
	elapsed   time.Duration
	timedOut  bool
	memKilled bool
}

type groupCmd struct {
	path    string
	args    []string
	dir     string
	env     []string
	stdin   string
	sys     *syscall.SysProcAttr
	timeout time.Duration
	watch   watchFunc
	// started runs right after a successful start, before the program is
	// waited on.
	started func(pid int)
}

// errLaunch marks failures to start the child at all.
type errLaunch struct{ err error }

func (e *errLaunch) Error() string { return e.err.Error() }
func (e *errLaunch) Unwrap() error { return e.err }

// runGroup starts gc in a new process group and waits for it. On timeout,
// caller cancellation or a watchdog verdict the entire group is killed.
func runGroup(ctx context.Context, gc groupCmd) (*groupRun, error) {
	runCtx, cancel := context.WithTimeout(ctx, gc.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, gc.path, gc.args...)
	cmd.Dir = gc.dir
	cmd.Env = gc.env

	sys := gc.sys
	if sys == nil {
		sys = &syscall.SysProcAttr{}
	}
	sys.Setpgid = true
	cmd.SysProcAttr = sys

	// The reader is drained by exec's copier goroutine which closes the
	// pipe at EOF. EPIPE from a program that never reads is ignored.
	cmd.Stdin = strings.NewReader(gc.stdin)

	run := &groupRun{stdout: newLimitedBuffer(), stderr: newLimitedBuffer()}
	cmd.Stdout = run.stdout
	cmd.Stderr = run.stderr

	var timedOut atomic.Bool
	cmd.Cancel = func() error {
		if ctx.Err() == nil {
			timedOut.Store(true)
		}
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errLaunch{err: err}
	}
	pid := cmd.Process.Pid
	if gc.started != nil {
		gc.started(pid)
	}

	var memKilled atomic.Bool
	done := make(chan struct{})
	var wg sync.WaitGroup
	if gc.watch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gc.watch(pid, done) {
				memKilled.Store(true)
				_ = killGroup(pid)
			}
		}()
	}

	waitErr := cmd.Wait()
	run.elapsed = time.Since(start)
	close(done)
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if cmd.ProcessState == nil {
		return nil, waitErr
	}

	run.state = cmd.ProcessState
	run.timedOut = timedOut.Load()
	run.memKilled = memKilled.Load()
	return run, nil
}

func killGroup(pid int) error {
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// exitCode returns the shell-style exit status: the code for a normal exit,
// 128+signal for a signalled process.
func (r *groupRun) exitCode() int {
	if ws, ok := r.state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return r.state.ExitCode()
}

// maxRSSKB returns the peak resident set size reported by the kernel, which
// includes descendants the child waited for.
func (r *groupRun) maxRSSKB() int64 {
	if ru, ok := r.state.SysUsage().(*syscall.Rusage); ok {
		return ru.Maxrss
	}
	return 0
}

// result converts the run into an ExecutionResult. Killed runs carry no
// exit code.
func (r *groupRun) result(stderr string) *domain.ExecutionResult {
	res := &domain.ExecutionResult{
		Stdout:         r.stdout.Output(),
		Stderr:         stderr,
		TimedOut:       r.timedOut,
		MemoryExceeded: r.memKilled,
		WallTimeMs:     r.elapsed.Milliseconds(),
		MemoryUsedKB:   r.maxRSSKB(),
	}
	if !r.timedOut && !r.memKilled {
		res.ExitCode = domain.IntPtr(r.exitCode())
	}
	return res
}

func baseEnv(home string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + home,
		"TMPDIR=" + home,
		"LANG=C.UTF-8",
	}
}
