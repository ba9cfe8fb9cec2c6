package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/aegis-sec/aegis/internal/models"
)

// DockerRuntime isolates artifact execution in a locked-down container. The
// sandbox image carries an analyze harness at a fixed path that reads the
// artifact on stdin and prints telemetry JSON on stdout.
type DockerRuntime struct {
	cli *client.Client
}

const analyzeHarness = "/opt/aegis/analyze"

func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Ping reports whether the Docker daemon is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

func (r *DockerRuntime) Provision(ctx context.Context, image string, limits models.ResourceLimits) (string, error) {
	host := hostConfig(limits)
	resp, err := r.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:           image,
			Cmd:             []string{"sleep", "infinity"},
			User:            "1000:1000",
			NetworkDisabled: limits.NetworkIsolated,
		},
		&host,
		nil,
		nil,
		"",
	)
	if err != nil {
		return "", fmt.Errorf("creating sandbox container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("starting sandbox container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) Execute(ctx context.Context, sandboxID string, artifact models.Artifact) (models.ExecutionTelemetry, error) {
	var tel models.ExecutionTelemetry
	start := time.Now()

	execResp, err := r.cli.ContainerExecCreate(ctx, sandboxID, types.ExecConfig{
		Cmd:          []string{analyzeHarness},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return tel, fmt.Errorf("creating exec: %w", err)
	}

	hijack, err := r.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return tel, fmt.Errorf("attaching exec: %w", err)
	}
	defer hijack.Close()

	if _, err := hijack.Conn.Write(artifact.Content); err != nil {
		return tel, fmt.Errorf("feeding artifact: %w", err)
	}
	if err := hijack.CloseWrite(); err != nil {
		return tel, fmt.Errorf("closing artifact stream: %w", err)
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, hijack.Reader)
		done <- copyErr
	}()

	select {
	case <-ctx.Done():
		tel.ExecutionTimeMS = time.Since(start).Milliseconds()
		return tel, ctx.Err()
	case err := <-done:
		if err != nil {
			return tel, fmt.Errorf("reading harness output: %w", err)
		}
	}

	tel.ExecutionTimeMS = time.Since(start).Milliseconds()
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &tel); err != nil {
			return tel, fmt.Errorf("decoding harness telemetry: %w", err)
		}
		tel.ExecutionTimeMS = time.Since(start).Milliseconds()
	}
	return tel, nil
}

func (r *DockerRuntime) Teardown(ctx context.Context, sandboxID string) error {
	err := r.cli.ContainerRemove(ctx, sandboxID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing sandbox container: %w", err)
	}
	return nil
}

func hostConfig(limits models.ResourceLimits) container.HostConfig {
	pids := int64(64)
	network := container.NetworkMode("bridge")
	if limits.NetworkIsolated {
		network = "none"
	}
	return container.HostConfig{
		ReadonlyRootfs: true,
		CapDrop:        strslice.StrSlice{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		NetworkMode:    network,
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("rw,noexec,size=%dm", limits.DiskMB),
		},
		Resources: container.Resources{
			Memory:    int64(limits.MemoryMB) * 1024 * 1024,
			NanoCPUs:  int64(limits.CPUPercent) * 10_000_000,
			PidsLimit: &pids,
		},
	}
}
