//go:build integration

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

// ──────────────────────────────────────────────────────
// Integration tests: require real interpreters / nsjail
// Run with: go test -tags integration -v ./internal/sandbox/
// ──────────────────────────────────────────────────────

func skipIfMissing(t *testing.T, bin string) {
	t.Helper()
	if _, err := exec.LookPath(bin); err != nil {
		t.Skipf("%s not found in PATH, skipping integration test", bin)
	}
}

func skipIfNotRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("must run as root for nsjail namespace creation, skipping integration test")
	}
}

func writeSource(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIntegration_ProcessPythonEcho(t *testing.T) {
	skipIfMissing(t, "python3")
	sb := NewProcessSandbox(false, 0, zap.NewNop())

	dir := t.TempDir()
	writeSource(t, dir, "main.py", "print(input())")

	res, err := sb.Run(context.Background(), &Spec{
		Command: []string{"python3", "-u", "main.py"},
		WorkDir: dir,
		Stdin:   "hello\n",
		Limits:  domain.Limits{TimeoutMs: 5000, MemoryLimitMb: 256},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" || !res.Exited(0) {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.MemoryUsedKB <= 0 {
		t.Errorf("MemoryUsedKB = %d, want > 0", res.MemoryUsedKB)
	}
}

func TestIntegration_ProcessMemoryExceeded(t *testing.T) {
	skipIfMissing(t, "python3")
	sb := NewProcessSandbox(false, 0, zap.NewNop())

	dir := t.TempDir()
	writeSource(t, dir, "main.py", "x = []\nwhile True:\n    x.append(bytearray(1 << 20))\n")

	res, err := sb.Run(context.Background(), &Spec{
		Command: []string{"python3", "main.py"},
		WorkDir: dir,
		Limits:  domain.Limits{TimeoutMs: 10000, MemoryLimitMb: 64},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.MemoryExceeded {
		t.Fatalf("expected MemoryExceeded, got %+v", res)
	}
	if res.TimedOut {
		t.Error("memory kill must not be reported as timeout")
	}
}

func TestIntegration_ProcessInfiniteLoop(t *testing.T) {
	skipIfMissing(t, "python3")
	sb := NewProcessSandbox(false, 0, zap.NewNop())

	dir := t.TempDir()
	writeSource(t, dir, "main.py", "while True:\n    pass\n")

	start := time.Now()
	res, err := sb.Run(context.Background(), &Spec{
		Command: []string{"python3", "main.py"},
		WorkDir: dir,
		Limits:  domain.Limits{TimeoutMs: 500, MemoryLimitMb: 128},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("timeout took %v, want < 2x the 500ms limit", elapsed)
	}
}

func TestIntegration_ProcessIsolatedNetwork(t *testing.T) {
	skipIfMissing(t, "sh")
	sb := NewProcessSandbox(true, 0, zap.NewNop())

	res, err := sb.Run(context.Background(), &Spec{
		Command: []string{"sh", "-c", "echo ok"},
		WorkDir: t.TempDir(),
		Limits:  domain.Limits{TimeoutMs: 5000, MemoryLimitMb: 64},
	})
	if err != nil {
		t.Skipf("user namespaces unavailable: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "ok" {
		t.Errorf("Stdout = %q, want ok", res.Stdout)
	}
}

func TestIntegration_NsjailPythonHelloWorld(t *testing.T) {
	skipIfMissing(t, "nsjail")
	skipIfMissing(t, "python3")
	skipIfNotRoot(t)

	nsjailPath, _ := exec.LookPath("nsjail")
	sb := NewNsjailSandbox(nsjailPath, os.Getenv("SENTINEL_NSJAIL_CONFIG"), 64, zap.NewNop())

	dir := t.TempDir()
	writeSource(t, dir, "main.py", "print('Hello, Sentinel!')")

	res, err := sb.Run(context.Background(), &Spec{
		Command: []string{"python3", "main.py"},
		WorkDir: dir,
		Limits:  domain.Limits{TimeoutMs: 5000, MemoryLimitMb: 256},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "Hello, Sentinel!" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestIntegration_NsjailTimeout(t *testing.T) {
	skipIfMissing(t, "nsjail")
	skipIfMissing(t, "python3")
	skipIfNotRoot(t)

	nsjailPath, _ := exec.LookPath("nsjail")
	sb := NewNsjailSandbox(nsjailPath, os.Getenv("SENTINEL_NSJAIL_CONFIG"), 64, zap.NewNop())

	dir := t.TempDir()
	writeSource(t, dir, "main.py", "while True:\n    pass\n")

	res, err := sb.Run(context.Background(), &Spec{
		Command: []string{"python3", "main.py"},
		WorkDir: dir,
		Limits:  domain.Limits{TimeoutMs: 1000, MemoryLimitMb: 256},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.TimedOut {
		t.Errorf("expected TimedOut, got %+v", res)
	}
}
