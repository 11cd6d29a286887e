// Package docker is an executor backend that runs code in local sandbox
// containers, one pre-warmed pool per language runtime.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/executor"
)

// timeoutExitCode mirrors the exit status of coreutils `timeout`.
const timeoutExitCode = 124

// Executor implements executor.Executor using Docker.
type Executor struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pools  map[string]*Pool
}

// New connects to the Docker daemon from the environment, pulls every
// runtime image and starts one pool per runtime.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if len(cfg.Runtimes) == 0 {
		return nil, fmt.Errorf("docker executor: no runtimes configured")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	e := &Executor{
		cli:    cli,
		config: cfg,
		logger: logger,
		pools:  make(map[string]*Pool, len(cfg.Runtimes)),
	}

	for _, lang := range e.Languages() {
		rt := cfg.Runtimes[lang]
		if err := e.pull(rt.Image); err != nil {
			e.Close()
			return nil, err
		}
		pool := NewPool(cli, rt.Image, cfg, logger)
		pool.Start()
		e.pools[lang] = pool
	}

	return e, nil
}

func (e *Executor) pull(ref string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	e.logger.Info("ensuring docker image is available", slog.String("image", ref))
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	// Reading to EOF blocks until the pull completes.
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// Languages lists the languages this executor can run, sorted.
func (e *Executor) Languages() []string {
	out := make([]string, 0, len(e.config.Runtimes))
	for lang := range e.config.Runtimes {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Close stops every pool and the docker client.
func (e *Executor) Close() error {
	for _, p := range e.pools {
		p.Stop()
	}
	return e.cli.Close()
}

// Execute runs req.Code in a container of the matching runtime.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	rt, ok := e.config.Runtimes[req.Language]
	pool := e.pools[req.Language]
	if !ok || pool == nil {
		return nil, apperror.Execution(fmt.Sprintf("%s is not available in the local sandbox", req.Language))
	}

	start := time.Now()

	containerID, err := pool.GetContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}

	// Containers are single-use.
	defer pool.removeContainer(containerID)

	executeCtx, executeCancel := context.WithTimeout(ctx, e.config.Timeout)
	defer executeCancel()

	cmd := append(append([]string{}, rt.Command...), req.Code)
	execResp, err := e.cli.ContainerExecCreate(executeCtx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan struct{})
	go func() {
		// stdcopy demultiplexes the attached stream into stdout and stderr.
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	var exitCode int
	select {
	case <-done:
		inspectResp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err == nil {
			exitCode = inspectResp.ExitCode
		}
	case <-executeCtx.Done():
		// Closing the hijacked connection unblocks StdCopy before the buffers are read.
		attachResp.Close()
		<-done
		exitCode = timeoutExitCode
		stderr.WriteString("\nExecution timed out.\n")
	}

	return &executor.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}
