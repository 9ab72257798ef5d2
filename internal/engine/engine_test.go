package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/config"
	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/sandbox"
	"github.com/Harsh-BH/sentinel-judge/internal/service"
)

// echoSandbox echoes stdin and records commands and preloaded images.
type echoSandbox struct {
	mu       sync.Mutex
	commands [][]string
	images   []string
	closed   bool
	preloads int
}

func (s *echoSandbox) Name() string { return "echo" }

func (s *echoSandbox) Run(ctx context.Context, spec *sandbox.Spec) (*domain.ExecutionResult, error) {
	s.mu.Lock()
	s.commands = append(s.commands, spec.Command)
	s.mu.Unlock()
	return &domain.ExecutionResult{Stdout: spec.Stdin, ExitCode: domain.IntPtr(0)}, nil
}

func (s *echoSandbox) Preload(ctx context.Context, images []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preloads++
	s.images = append(s.images, images...)
	return nil
}

func (s *echoSandbox) Close() error {
	s.closed = true
	return nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Sandbox: config.SandboxConfig{
			MaxConcurrency: 2,
			QueueDepth:     4,
			MaxTimeoutMs:   30000,
			MaxMemoryMb:    512,
			Images:         map[string]string{"python": "registry.local/python:3.12"},
		},
		Workspace: config.WorkspaceConfig{Root: t.TempDir(), SweepAge: time.Hour},
		Judge:     config.JudgeConfig{MaxTestCases: 10},
	}
}

func TestBuild_ServesRequests(t *testing.T) {
	sb := &echoSandbox{}
	eng, err := Build(testConfig(t), sb, zap.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer eng.Close()

	resp, err := eng.Service.Execute(context.Background(), service.ExecuteRequest{
		Code:     "print(input())",
		Language: "python",
		Input:    "hello",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Stdout != "hello" {
		t.Errorf("stdout = %q, want %q", resp.Stdout, "hello")
	}
	if len(eng.Service.Languages()) == 0 {
		t.Error("no languages registered")
	}
}

func TestBuild_AppliesImageOverrides(t *testing.T) {
	sb := &echoSandbox{}
	eng, err := Build(testConfig(t), sb, zap.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer eng.Close()

	if err := eng.Preload(context.Background()); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if sb.preloads != 1 {
		t.Fatalf("preloads = %d, want 1", sb.preloads)
	}
	found := false
	for _, img := range sb.images {
		if img == "registry.local/python:3.12" {
			found = true
		}
	}
	if !found {
		t.Errorf("preloaded images %v do not include the override", sb.images)
	}
}

func TestBuild_SweepsStaleWorkspaces(t *testing.T) {
	cfg := testConfig(t)
	stale := filepath.Join(cfg.Workspace.Root, "sentinel-stale")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	eng, err := Build(cfg, &echoSandbox{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer eng.Close()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale workspace still present: %v", err)
	}
}

func TestWarm_FillsGoBuildCache(t *testing.T) {
	cfg := testConfig(t)
	sb := &echoSandbox{}
	eng, err := Build(cfg, sb, zap.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer eng.Close()

	if err := eng.Warm(context.Background()); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if len(sb.commands) != 1 || sb.commands[0][0] != "go" {
		t.Fatalf("warm commands = %v, want one go build", sb.commands)
	}
	if _, err := os.Stat(filepath.Join(cfg.Workspace.Root, ".cache", "go-build")); err != nil {
		t.Errorf("go build cache not created: %v", err)
	}
}

func TestClose_ReleasesSandbox(t *testing.T) {
	sb := &echoSandbox{}
	eng, err := Build(testConfig(t), sb, zap.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	eng.Close()
	if !sb.closed {
		t.Error("sandbox was not closed")
	}
}
