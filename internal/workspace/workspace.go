package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

const (
	dirPrefix = "sentinel-"
	cacheDir  = ".cache"

	// rootMode lets sandboxed users reach their own workspace by path
	// without listing the workspaces of others.
	rootMode = 0o711
)

// Manager hands out private scratch directories under a common root.
type Manager struct {
	root   string
	logger *zap.Logger
}

// NewManager creates a manager rooted at root. An empty root means a
// sentinel directory under the system temp directory.
func NewManager(root string, logger *zap.Logger) *Manager {
	if root == "" {
		root = filepath.Join(os.TempDir(), "sentinel")
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Manager{root: root, logger: logger}
}

// Root returns the directory workspaces are created in.
func (m *Manager) Root() string { return m.root }

// Workspace is one uniquely named directory owned by a single execution.
type Workspace struct {
	ID   string
	Dir  string
	once sync.Once
	err  error
}

// Acquire creates a fresh workspace. Failures are not retried.
func (m *Manager) Acquire() (*Workspace, error) {
	if err := m.ensureRoot(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(m.root, dirPrefix+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkspaceUnavailable, err)
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

func (m *Manager) ensureRoot() error {
	if err := os.MkdirAll(m.root, rootMode); err != nil {
		return fmt.Errorf("%w: create root: %v", domain.ErrWorkspaceUnavailable, err)
	}
	if err := os.Chmod(m.root, rootMode); err != nil {
		return fmt.Errorf("%w: chmod root: %v", domain.ErrWorkspaceUnavailable, err)
	}
	return nil
}

// CacheDir returns a persistent directory for name that survives workspace
// release and Sweep. Compilers use it to share build caches across
// submissions.
func (m *Manager) CacheDir(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid cache name %q", name)
	}
	if err := m.ensureRoot(); err != nil {
		return "", err
	}
	dir := filepath.Join(m.root, cacheDir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create cache: %v", domain.ErrWorkspaceUnavailable, err)
	}
	return dir, nil
}

// With acquires a workspace, runs fn and releases the workspace whether fn
// returns normally, fails or panics.
func (m *Manager) With(fn func(ws *Workspace) error) (err error) {
	ws, err := m.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := ws.Release(); rerr != nil {
			m.logger.Warn("failed to release workspace",
				zap.String("workspace", ws.Dir),
				zap.Error(rerr),
			)
		}
	}()
	return fn(ws)
}

// Sweep removes workspaces older than maxAge left behind by a crashed
// process. It returns the number of directories removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to sweep stale workspace", zap.String("workspace", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Path returns the absolute path of name inside the workspace.
func (w *Workspace) Path(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid workspace file name %q", name)
	}
	p := filepath.Join(w.Dir, name)
	rel, err := filepath.Rel(w.Dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file name %q escapes workspace", name)
	}
	return p, nil
}

// WriteFile writes content to name atomically: readers never observe a
// partially written file.
func (w *Workspace) WriteFile(name string, content []byte) error {
	dst, err := w.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Release removes the workspace and everything in it. Calling it more than
// once is safe; later calls return the first call's result.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.Dir)
	})
	return w.err
}
