package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/languages"
	"github.com/Harsh-BH/sentinel-judge/internal/sandbox"
	"github.com/Harsh-BH/sentinel-judge/internal/workspace"
)

// fakeSandbox records every invocation and answers with RunFn.
type fakeSandbox struct {
	mu    sync.Mutex
	specs []sandbox.Spec
	files []string // source file contents seen at run time

	RunFn func(spec *sandbox.Spec) (*domain.ExecutionResult, error)
}

func (f *fakeSandbox) Name() string { return "fake" }

func (f *fakeSandbox) Run(ctx context.Context, spec *sandbox.Spec) (*domain.ExecutionResult, error) {
	entries, _ := os.ReadDir(spec.WorkDir)
	var content string
	for _, e := range entries {
		if !e.IsDir() {
			b, _ := os.ReadFile(filepath.Join(spec.WorkDir, e.Name()))
			content = string(b)
		}
	}

	f.mu.Lock()
	f.specs = append(f.specs, *spec)
	f.files = append(f.files, content)
	f.mu.Unlock()

	if f.RunFn != nil {
		return f.RunFn(spec)
	}
	return &domain.ExecutionResult{Stdout: spec.Stdin, ExitCode: domain.IntPtr(0)}, nil
}

func (f *fakeSandbox) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

// directScheduler runs work inline.
type directScheduler struct{ err error }

func (d directScheduler) Do(ctx context.Context, fn func(context.Context) error) error {
	if d.err != nil {
		return d.err
	}
	return fn(ctx)
}

func (d directScheduler) DoWait(ctx context.Context, fn func(context.Context) error) error {
	return d.Do(ctx, fn)
}

// crowdedScheduler admits the first Do and rejects every later one, as a
// pool does once other submissions fill its queue. DoWait always runs.
type crowdedScheduler struct {
	mu  sync.Mutex
	dos int
}

func (c *crowdedScheduler) Do(ctx context.Context, fn func(context.Context) error) error {
	c.mu.Lock()
	c.dos++
	first := c.dos == 1
	c.mu.Unlock()
	if !first {
		return domain.ErrSystemBusy
	}
	return fn(ctx)
}

func (c *crowdedScheduler) DoWait(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newTestExecutor(t *testing.T, sb sandbox.Sandbox, maxLimits domain.Limits) (*Executor, string) {
	t.Helper()
	reg, err := languages.NewRegistry(languages.Defaults()...)
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	ws := workspace.NewManager(root, zap.NewNop())
	return New(reg, ws, sb, directScheduler{}, maxLimits, zap.NewNop()), root
}

func assertNoWorkspaces(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != ".cache" {
			t.Errorf("workspace root has leftover entry %s", e.Name())
		}
	}
}

func TestExecute_UnsupportedLanguage(t *testing.T) {
	sb := &fakeSandbox{}
	exe, root := newTestExecutor(t, sb, domain.Limits{})

	_, err := exe.Execute(context.Background(), domain.ExecutionRequest{
		SourceCode: "puts 'hello'",
		LanguageID: "ruby",
	})
	if !errors.Is(err, domain.ErrUnsupportedLanguage) {
		t.Fatalf("Execute() error = %v, want ErrUnsupportedLanguage", err)
	}
	if sb.calls() != 0 {
		t.Error("sandbox must not be invoked for an unsupported language")
	}
	assertNoWorkspaces(t, root)
}

func TestExecute_Interpreted(t *testing.T) {
	sb := &fakeSandbox{}
	exe, root := newTestExecutor(t, sb, domain.Limits{})

	res, err := exe.Execute(context.Background(), domain.ExecutionRequest{
		SourceCode: "print(input())",
		LanguageID: "python",
		Stdin:      "hello\n",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want echoed stdin", res.Stdout)
	}
	if sb.calls() != 1 {
		t.Fatalf("sandbox calls = %d, want 1", sb.calls())
	}

	spec := sb.specs[0]
	if spec.Command[len(spec.Command)-1] != "main.py" {
		t.Errorf("Command = %v, want trailing main.py", spec.Command)
	}
	if spec.Limits.TimeoutMs != 5000 || spec.Limits.MemoryLimitMb != 256 {
		t.Errorf("Limits = %+v, want recipe defaults", spec.Limits)
	}
	if sb.files[0] != "print(input())" {
		t.Errorf("source seen by sandbox = %q", sb.files[0])
	}
	assertNoWorkspaces(t, root)
}

func TestExecute_CompiledTwoPhases(t *testing.T) {
	sb := &fakeSandbox{}
	exe, root := newTestExecutor(t, sb, domain.Limits{})

	_, err := exe.Execute(context.Background(), domain.ExecutionRequest{
		SourceCode:    "int main(){}",
		LanguageID:    "cpp",
		TimeoutMs:     2000,
		MemoryLimitMb: 64,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if sb.calls() != 2 {
		t.Fatalf("sandbox calls = %d, want compile + run", sb.calls())
	}

	compile, run := sb.specs[0], sb.specs[1]
	if compile.Command[0] != "g++" {
		t.Errorf("compile command = %v", compile.Command)
	}
	if compile.Limits.TimeoutMs != 10000 || compile.Limits.MemoryLimitMb != 512 {
		t.Errorf("compile limits = %+v, want 10000ms/512MB", compile.Limits)
	}
	if run.Command[0] != "./main" {
		t.Errorf("run command = %v", run.Command)
	}
	if run.Limits.TimeoutMs != 2000 || run.Limits.MemoryLimitMb != 64 {
		t.Errorf("run limits = %+v, want request overrides", run.Limits)
	}
	assertNoWorkspaces(t, root)
}

func TestExecute_CompileError(t *testing.T) {
	sb := &fakeSandbox{
		RunFn: func(spec *sandbox.Spec) (*domain.ExecutionResult, error) {
			return &domain.ExecutionResult{
				Stderr:   "main.cpp:1:1: error: expected unqualified-id",
				ExitCode: domain.IntPtr(1),
			}, nil
		},
	}
	exe, root := newTestExecutor(t, sb, domain.Limits{})

	res, err := exe.Execute(context.Background(), domain.ExecutionRequest{
		SourceCode: "int main( {",
		LanguageID: "cpp",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.CompileError == "" {
		t.Fatal("expected CompileError to be set")
	}
	if res.Status() != "compile_error" {
		t.Errorf("Status() = %q, want compile_error", res.Status())
	}
	if sb.calls() != 1 {
		t.Errorf("sandbox calls = %d, want compile only", sb.calls())
	}
	assertNoWorkspaces(t, root)
}

func TestExecute_CompileTimeout(t *testing.T) {
	sb := &fakeSandbox{
		RunFn: func(spec *sandbox.Spec) (*domain.ExecutionResult, error) {
			return &domain.ExecutionResult{TimedOut: true}, nil
		},
	}
	exe, _ := newTestExecutor(t, sb, domain.Limits{})

	res, err := exe.Execute(context.Background(), domain.ExecutionRequest{SourceCode: "x", LanguageID: "go"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.CompileError != "Compilation timed out" {
		t.Errorf("CompileError = %q", res.CompileError)
	}
}

func TestExecute_LaunchErrorReleasesWorkspace(t *testing.T) {
	sb := &fakeSandbox{
		RunFn: func(spec *sandbox.Spec) (*domain.ExecutionResult, error) {
			return nil, domain.ErrSandboxLaunch
		},
	}
	exe, root := newTestExecutor(t, sb, domain.Limits{})

	_, err := exe.Execute(context.Background(), domain.ExecutionRequest{SourceCode: "print(1)", LanguageID: "python"})
	if !errors.Is(err, domain.ErrSandboxLaunch) {
		t.Fatalf("Execute() error = %v, want ErrSandboxLaunch", err)
	}
	assertNoWorkspaces(t, root)
}

func TestExecute_SystemBusy(t *testing.T) {
	reg, _ := languages.NewRegistry(languages.Defaults()...)
	root := t.TempDir()
	exe := New(reg, workspace.NewManager(root, zap.NewNop()), &fakeSandbox{},
		directScheduler{err: domain.ErrSystemBusy}, domain.Limits{}, zap.NewNop())

	_, err := exe.Execute(context.Background(), domain.ExecutionRequest{SourceCode: "print(1)", LanguageID: "python"})
	if !errors.Is(err, domain.ErrSystemBusy) {
		t.Fatalf("Execute() error = %v, want ErrSystemBusy", err)
	}
	assertNoWorkspaces(t, root)
}

func TestExecute_ClampsLimits(t *testing.T) {
	sb := &fakeSandbox{}
	exe, _ := newTestExecutor(t, sb, domain.Limits{TimeoutMs: 3000, MemoryLimitMb: 128})

	_, err := exe.Execute(context.Background(), domain.ExecutionRequest{
		SourceCode:    "print(1)",
		LanguageID:    "python",
		TimeoutMs:     60000,
		MemoryLimitMb: 4096,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := sb.specs[0].Limits; got.TimeoutMs != 3000 || got.MemoryLimitMb != 128 {
		t.Errorf("Limits = %+v, want clamped to 3000ms/128MB", got)
	}
}

func TestPrepare_CompileOnceRunMany(t *testing.T) {
	sb := &fakeSandbox{}
	exe, root := newTestExecutor(t, sb, domain.Limits{})

	prog, err := exe.Prepare(context.Background(), "int main(){}", "c", domain.Limits{})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if prog.CompileResult() != nil {
		t.Fatal("unexpected compile failure")
	}

	for _, in := range []string{"1", "2", "3"} {
		res, err := prog.Run(context.Background(), in)
		if err != nil {
			t.Fatalf("Run(%q) error = %v", in, err)
		}
		if res.Stdout != in {
			t.Errorf("Run(%q) stdout = %q", in, res.Stdout)
		}
	}
	if sb.calls() != 4 {
		t.Errorf("sandbox calls = %d, want 1 compile + 3 runs", sb.calls())
	}

	if err := prog.Close(); err != nil {
		t.Fatal(err)
	}
	if err := prog.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	assertNoWorkspaces(t, root)
}

func TestPrepare_Isolation(t *testing.T) {
	sb := &fakeSandbox{}
	exe, _ := newTestExecutor(t, sb, domain.Limits{})

	a, err := exe.Prepare(context.Background(), "a", "python", domain.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := exe.Prepare(context.Background(), "b", "python", domain.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if a.ws.Dir == b.ws.Dir {
		t.Fatal("two programs share a workspace")
	}
}

func TestPrepare_AdmittedProgramIsNotRejected(t *testing.T) {
	for _, lang := range []string{"c", "python"} {
		t.Run(lang, func(t *testing.T) {
			reg, _ := languages.NewRegistry(languages.Defaults()...)
			root := t.TempDir()
			sched := &crowdedScheduler{}
			exe := New(reg, workspace.NewManager(root, zap.NewNop()), &fakeSandbox{}, sched, domain.Limits{}, zap.NewNop())

			prog, err := exe.Prepare(context.Background(), "src", lang, domain.Limits{})
			if err != nil {
				t.Fatalf("Prepare() error = %v", err)
			}
			defer prog.Close()

			for i := 0; i < 5; i++ {
				if _, err := prog.Run(context.Background(), "x"); err != nil {
					t.Fatalf("Run #%d error = %v, want admitted runs to queue", i+1, err)
				}
			}
			if sched.dos != 1 {
				t.Errorf("Do calls = %d, want only the admitting call", sched.dos)
			}

			// A fresh submission still meets the crowded pool.
			if _, err := exe.Execute(context.Background(), domain.ExecutionRequest{SourceCode: "src", LanguageID: lang}); !errors.Is(err, domain.ErrSystemBusy) {
				t.Errorf("Execute() error = %v, want ErrSystemBusy", err)
			}
		})
	}
}

func TestExecute_GoCompileSharesBuildCache(t *testing.T) {
	sb := &fakeSandbox{}
	exe, root := newTestExecutor(t, sb, domain.Limits{})

	if _, err := exe.Execute(context.Background(), domain.ExecutionRequest{SourceCode: "package main", LanguageID: "go"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if sb.calls() != 2 {
		t.Fatalf("sandbox calls = %d, want compile + run", sb.calls())
	}

	compile, run := sb.specs[0], sb.specs[1]
	if want := filepath.Join(root, ".cache", "go-build"); compile.CacheDir != want {
		t.Errorf("compile CacheDir = %q, want %q", compile.CacheDir, want)
	}
	if run.CacheDir != "" {
		t.Errorf("run CacheDir = %q, the program must not see the build cache", run.CacheDir)
	}
	assertNoWorkspaces(t, root)
}

func TestWarm_FillsBuildCaches(t *testing.T) {
	sb := &fakeSandbox{}
	exe, root := newTestExecutor(t, sb, domain.Limits{TimeoutMs: 1000, MemoryLimitMb: 64})

	if err := exe.Warm(context.Background(), languages.Defaults()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if sb.calls() != 1 {
		t.Fatalf("sandbox calls = %d, want one warm run for go", sb.calls())
	}

	spec := sb.specs[0]
	if spec.Command[0] != "go" || spec.CacheDir != filepath.Join(root, ".cache", "go-build") {
		t.Errorf("warm spec = %+v", spec)
	}
	if spec.Limits.TimeoutMs != warmTimeoutMs || spec.Limits.MemoryLimitMb != warmMemoryMb {
		t.Errorf("warm limits = %+v, want the startup budget", spec.Limits)
	}
	assertNoWorkspaces(t, root)
}

func TestWarm_ReportsFailure(t *testing.T) {
	sb := &fakeSandbox{
		RunFn: func(spec *sandbox.Spec) (*domain.ExecutionResult, error) {
			return &domain.ExecutionResult{Stderr: "go: no such tool", ExitCode: domain.IntPtr(2)}, nil
		},
	}
	exe, _ := newTestExecutor(t, sb, domain.Limits{})

	err := exe.Warm(context.Background(), languages.Defaults())
	if err == nil || !strings.Contains(err.Error(), "warm go") {
		t.Fatalf("Warm() error = %v, want a go warm failure", err)
	}
}
