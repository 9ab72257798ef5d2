package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Harsh-BH/sentinel-judge/internal/domain"
)

const (
	containerWorkDir = "/workspace"
	defaultPidsLimit = 64

	// drainGrace bounds how long output is drained after the container exits.
	drainGrace = 2 * time.Second

	preloadParallelism = 4
)

// dockerAPI is the subset of the Docker client used by the backend.
type dockerAPI interface {
	Close() error
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerSandbox runs every invocation in a fresh, network-less container
// with the workspace bind-mounted at /workspace.
type DockerSandbox struct {
	cli       dockerAPI
	pidsLimit int64
	pull      bool
	user      string
	logger    *zap.Logger

	pulls  singleflight.Group
	mu     sync.Mutex
	pulled map[string]bool
}

// NewDockerSandbox connects to the Docker daemon from the environment.
func NewDockerSandbox(pidsLimit int64, pull bool, logger *zap.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerSandbox(cli, pidsLimit, pull, logger), nil
}

func newDockerSandbox(cli dockerAPI, pidsLimit int64, pull bool, logger *zap.Logger) *DockerSandbox {
	if pidsLimit <= 0 {
		pidsLimit = defaultPidsLimit
	}
	return &DockerSandbox{
		cli:       cli,
		pidsLimit: pidsLimit,
		pull:      pull,
		user:      fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		logger:    logger,
		pulled:    make(map[string]bool),
	}
}

func (s *DockerSandbox) Name() string { return BackendDocker }

// Close releases the Docker client.
func (s *DockerSandbox) Close() error { return s.cli.Close() }

// EnsureImage pulls img once per process lifetime. Concurrent callers
// asking for the same image share a single pull.
func (s *DockerSandbox) EnsureImage(ctx context.Context, img string) error {
	if !s.pull {
		return nil
	}
	s.mu.Lock()
	done := s.pulled[img]
	s.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := s.pulls.Do(img, func() (interface{}, error) {
		return nil, s.pullImage(ctx, img)
	})
	return err
}

// Preload pulls images concurrently, at most preloadParallelism at a time.
func (s *DockerSandbox) Preload(ctx context.Context, images []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadParallelism)
	for _, img := range images {
		if img == "" {
			continue
		}
		g.Go(func() error { return s.EnsureImage(gctx, img) })
	}
	return g.Wait()
}

func (s *DockerSandbox) pullImage(ctx context.Context, img string) error {
	s.mu.Lock()
	done := s.pulled[img]
	s.mu.Unlock()
	if done {
		return nil
	}

	s.logger.Info("pulling docker image", zap.String("image", img))
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()

	// The pull only completes once its progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("consume pull output for %s: %w", img, err)
	}

	s.mu.Lock()
	s.pulled[img] = true
	s.mu.Unlock()
	s.logger.Info("pulled docker image", zap.String("image", img))
	return nil
}

// Run executes spec.Command in a new container and removes it afterwards.
func (s *DockerSandbox) Run(ctx context.Context, spec *Spec) (*domain.ExecutionResult, error) {
	if len(spec.Command) == 0 {
		return nil, launchError(s.logger, BackendDocker, errors.New("empty command"))
	}
	if spec.Image == "" {
		return nil, launchError(s.logger, BackendDocker, errors.New("no image configured"))
	}
	if err := s.EnsureImage(ctx, spec.Image); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, launchError(s.logger, BackendDocker, err)
	}

	id, err := s.create(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, launchError(s.logger, BackendDocker, err)
	}
	defer s.remove(id)

	attach, err := s.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, launchError(s.logger, BackendDocker, fmt.Errorf("attach container: %w", err))
	}
	defer attach.Close()

	stdout, stderr := newLimitedBuffer(), newLimitedBuffer()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
	}()

	start := time.Now()
	if err := s.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, launchError(s.logger, BackendDocker, fmt.Errorf("start container: %w", err))
	}

	// Feed stdin then signal EOF. A program that exits without reading
	// makes the write fail, which is not an error for the run.
	go func() {
		if attach.Conn == nil {
			return
		}
		_, _ = io.Copy(attach.Conn, strings.NewReader(spec.Stdin))
		_ = attach.CloseWrite()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeoutOf(spec.Limits))
	status, waitErr := s.waitForExit(waitCtx, id)
	cancel()
	elapsed := time.Since(start)

	timedOut := false
	if waitErr != nil {
		if ctx.Err() != nil {
			s.kill(id)
			return nil, ctx.Err()
		}
		if !errors.Is(waitErr, context.DeadlineExceeded) {
			return nil, launchError(s.logger, BackendDocker, waitErr)
		}
		timedOut = true
		s.kill(id)
	}

	select {
	case <-drained:
	case <-time.After(drainGrace):
		attach.Close()
		<-drained
	}

	result := &domain.ExecutionResult{
		Stdout:     stdout.Output(),
		Stderr:     stderr.Output(),
		TimedOut:   timedOut,
		WallTimeMs: elapsed.Milliseconds(),
	}

	if !timedOut {
		inspectCtx, cancelInspect := context.WithTimeout(context.Background(), 5*time.Second)
		inspect, err := s.cli.ContainerInspect(inspectCtx, id)
		cancelInspect()
		if err != nil {
			return nil, launchError(s.logger, BackendDocker, fmt.Errorf("inspect container: %w", err))
		}
		if inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.OOMKilled {
			result.MemoryExceeded = true
		} else {
			result.ExitCode = domain.IntPtr(int(status.StatusCode))
		}
	}

	s.logger.Debug("docker execution completed",
		zap.String("container_id", id),
		zap.String("image", spec.Image),
		zap.Int64("wall_time_ms", result.WallTimeMs),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("memory_exceeded", result.MemoryExceeded),
	)
	return result, nil
}

func (s *DockerSandbox) create(ctx context.Context, spec *Spec) (string, error) {
	memory := spec.Limits.MemoryLimitBytes()
	pids := s.pidsLimit

	env := append([]string{"HOME=" + containerWorkDir, "TMPDIR=/tmp", "LANG=C.UTF-8"},
		expandEnv(spec.Env, containerWorkDir, spec.mountedCache())...)

	binds := []string{spec.WorkDir + ":" + containerWorkDir + ":rw"}
	if spec.CacheDir != "" {
		binds = append(binds, spec.CacheDir+":"+mountedCacheDir+":rw")
	}

	resp, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           spec.Image,
			Cmd:             spec.Command,
			Env:             env,
			WorkingDir:      containerWorkDir,
			User:            s.user,
			AttachStdin:     true,
			AttachStdout:    true,
			AttachStderr:    true,
			OpenStdin:       true,
			StdinOnce:       true,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			Binds:       binds,
			NetworkMode: "none",
			Resources: container.Resources{
				Memory:     memory,
				MemorySwap: memory, // No swap allowed
				NanoCPUs:   1_000_000_000,
				PidsLimit:  &pids, // Prevent fork bombs
			},
			ReadonlyRootfs: true,
			SecurityOpt:    []string{"no-new-privileges"},
			CapDrop:        []string{"ALL"},
			Tmpfs: map[string]string{
				"/tmp": "rw,noexec,nosuid,size=16m,mode=1777",
			},
		},
		nil, nil, "sentinel-"+uuid.NewString(),
	)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (s *DockerSandbox) waitForExit(ctx context.Context, id string) (*container.WaitResponse, error) {
	statusCh, errCh := s.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *DockerSandbox) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		s.logger.Warn("failed to kill container", zap.String("container_id", id), zap.Error(err))
	}
}

func (s *DockerSandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		s.logger.Warn("failed to remove container", zap.String("container_id", id), zap.Error(err))
	}
}
