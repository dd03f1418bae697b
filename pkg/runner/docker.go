package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/rhuss/codeexec/pkg/api"
	"github.com/rhuss/codeexec/pkg/debug"
)

// containerDir is where the program file is copied inside the container.
// It exists in every base image.
const containerDir = "/tmp"

// dockerAPI is the subset of the Docker client used by DockerRunner.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerConfig configures a DockerRunner.
type DockerConfig struct {
	// Languages is the language table. Nil means DefaultTable.
	Languages Table

	// MaxConcurrent bounds concurrent containers. Zero means runtime.NumCPU().
	MaxConcurrent int

	// MaxOutputBytes caps each of stdout and stderr. Zero means unlimited.
	MaxOutputBytes int

	MemoryMB        int64
	CPUs            float64
	PidsLimit       int64
	NetworkDisabled bool

	// PullImages pulls the language image before each run.
	PullImages bool
}

// DockerRunner runs each program in a fresh container that is removed
// afterwards.
type DockerRunner struct {
	cfg     DockerConfig
	cli     dockerAPI
	limiter *limiter
}

// NewDockerRunner connects to the Docker daemon configured by the
// environment (DOCKER_HOST and friends).
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newDockerRunner(cfg, cli), nil
}

func newDockerRunner(cfg DockerConfig, cli dockerAPI) *DockerRunner {
	if cfg.Languages == nil {
		cfg.Languages = DefaultTable()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = runtime.NumCPU()
	}
	return &DockerRunner{
		cfg:     cfg,
		cli:     cli,
		limiter: newLimiter(cfg.MaxConcurrent),
	}
}

// Name returns "docker".
func (r *DockerRunner) Name() string { return "docker" }

// Languages returns the languages in the runner's table.
func (r *DockerRunner) Languages() []string { return r.cfg.Languages.Names() }

// Capacity returns the maximum number of concurrent containers.
func (r *DockerRunner) Capacity() int { return r.limiter.capacity }

// InFlight returns the number of containers currently running.
func (r *DockerRunner) InFlight() int { return r.limiter.current() }

// Close closes the Docker client.
func (r *DockerRunner) Close() error { return r.cli.Close() }

// Run executes p in a new container.
func (r *DockerRunner) Run(ctx context.Context, p *Program) (*Outcome, error) {
	lang, err := r.cfg.Languages.Lookup(p.Language)
	if err != nil {
		return nil, err
	}

	release, err := r.limiter.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for run permit: %w", err)
	}
	defer release()

	if r.cfg.PullImages {
		if err := r.pull(ctx, lang.Image); err != nil {
			return nil, err
		}
	}

	fileName := "main" + lang.Extension
	containerCfg, hostCfg := r.containerSpec(lang, containerDir+"/"+fileName)

	created, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	id := created.ID
	defer func() {
		// The request context may be gone; removal must still happen.
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove container", "container", id, "error", err)
		}
	}()

	archive, err := programArchive(fileName, p.Code)
	if err != nil {
		return nil, err
	}
	if err := r.cli.CopyToContainer(ctx, id, containerDir, archive, container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("copying program into container: %w", err)
	}

	debug.Log("runner", "container start", "container", id, "image", lang.Image, "timeout", p.Timeout)

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	out := &Outcome{}
	statusCh, errCh := r.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("waiting for container: %s", status.Error.Message)
		}
		out.ExitCode = int(status.StatusCode)
		if out.ExitCode == 0 {
			out.Status = api.StatusPass
		} else {
			out.Status = api.StatusFail
		}
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
		out.Status = api.StatusTimeout
		out.ExitCode = -1
		killCtx, killCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := r.cli.ContainerKill(killCtx, id, "KILL"); err != nil {
			debug.Log("runner", "container kill failed", "container", id, "error", err)
		}
		killCancel()
	}
	out.Duration = time.Since(start)

	logsCtx, logsCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer logsCancel()
	stdout, stderr, err := r.collectLogs(logsCtx, id)
	if err != nil {
		return nil, err
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if out.Status == api.StatusTimeout && stderr.Len() == 0 {
		out.Stderr = TimeoutMessage
	}

	debug.Log("runner", "container done",
		"container", id,
		"status", out.Status,
		"exit_code", out.ExitCode,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

// containerSpec builds the container and host configuration for one run.
func (r *DockerRunner) containerSpec(lang Language, path string) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           lang.Image,
		Cmd:             lang.Argv(path),
		WorkingDir:      containerDir,
		Tty:             false,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: r.cfg.NetworkDisabled,
		Labels:          map[string]string{"app": "codeexec", "codeexec.language": lang.Name},
	}

	host := &container.HostConfig{
		Resources: container.Resources{
			Memory:   r.cfg.MemoryMB * 1024 * 1024,
			NanoCPUs: int64(r.cfg.CPUs * 1e9),
		},
	}
	if r.cfg.PidsLimit > 0 {
		pids := r.cfg.PidsLimit
		host.Resources.PidsLimit = &pids
	}
	if r.cfg.NetworkDisabled {
		host.NetworkMode = "none"
	}
	return cfg, host
}

func (r *DockerRunner) pull(ctx context.Context, ref string) error {
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return nil
}

// collectLogs reads the container's multiplexed log stream and splits it
// into stdout and stderr.
func (r *DockerRunner) collectLogs(ctx context.Context, id string) (*cappedBuffer, *cappedBuffer, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	stdout := newCappedBuffer(r.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(r.cfg.MaxOutputBytes)
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return nil, nil, fmt.Errorf("demultiplexing container logs: %w", err)
	}
	return stdout, stderr, nil
}

// programArchive wraps the program in the tar stream CopyToContainer expects.
func programArchive(name, code string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(code)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("building program archive: %w", err)
	}
	if _, err := tw.Write([]byte(code)); err != nil {
		return nil, fmt.Errorf("building program archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("building program archive: %w", err)
	}
	return &buf, nil
}
