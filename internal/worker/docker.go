package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DockerConfig configures the Docker CLI backend. Empty Image/Network
// fall back to the defaults below, matching the original DockerBackend's
// property-with-default pattern.
type DockerConfig struct {
	Image         string
	Network       string
	MemoryLimit   string // Docker format, e.g. "2g"
	CPULimit      string // Docker format, e.g. "2.0"
	WorkspaceRoot string
}

const (
	defaultDockerImage   = "ghcr.io/werdnum/ai-coding-base:latest"
	defaultDockerNetwork = "bridge"
	defaultMemoryLimit   = "2g"
	defaultCPULimit      = "2.0"
)

func (c DockerConfig) orDefaults() DockerConfig {
	if c.Image == "" {
		c.Image = defaultDockerImage
	}
	if c.Network == "" {
		c.Network = defaultDockerNetwork
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = defaultMemoryLimit
	}
	if c.CPULimit == "" {
		c.CPULimit = defaultCPULimit
	}
	return c
}

// DockerBackend runs worker tasks as Docker containers via the `docker`
// CLI, invoked through os/exec.CommandContext rather than a Docker API
// client library — no example repo's go.mod carries a Docker SDK
// dependency, and the Python original this is grounded on deliberately
// avoids the heavier `aiodocker` client for the same reason ("avoids
// adding a heavy dependency ... while providing full ... functionality").
// Useful for local development; production deployments implement
// Backend against their own orchestrator.
type DockerBackend struct {
	cfg DockerConfig
}

// NewDockerBackend constructs a Backend backed by the local `docker` CLI.
func NewDockerBackend(cfg DockerConfig) *DockerBackend {
	return &DockerBackend{cfg: cfg.orDefaults()}
}

func (b *DockerBackend) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	name := "worker-" + req.TaskID
	args := []string{
		"run", "--detach", "--rm",
		"--name=" + name,
		"--network=" + b.cfg.Network,
		"--memory=" + b.cfg.MemoryLimit,
		"--cpus=" + b.cfg.CPULimit,
		"-e", "TASK_ID=" + req.TaskID,
		"-e", "TASK_DESCRIPTION=" + req.TaskDescription,
		"-e", "TASK_WEBHOOK_URL=" + req.WebhookURL,
		"-e", "TASK_CALLBACK_TOKEN=" + req.CallbackToken,
		"-e", "AI_AGENT=" + req.Model,
		"-e", "TASK_TIMEOUT_MINUTES=" + strconv.Itoa(req.TimeoutMinutes),
	}
	if b.cfg.WorkspaceRoot != "" {
		args = append(args, "-v", b.cfg.WorkspaceRoot+":/workspace")
	}
	args = append(args, b.cfg.Image, "run-task")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	containerID := strings.TrimSpace(stdout.String())
	if containerID == "" {
		return "", fmt.Errorf("docker run returned empty container id")
	}
	return containerID, nil
}

func (b *DockerBackend) Status(ctx context.Context, jobName string) (BackendStatusResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "inspect", "--format", "{{.State.Status}}:{{.State.ExitCode}}", jobName)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return BackendStatusResult{Status: BackendUnknown}, nil
	}

	parts := strings.SplitN(strings.TrimSpace(stdout.String()), ":", 2)
	if len(parts) != 2 {
		return BackendStatusResult{Status: BackendUnknown}, nil
	}
	state, exitStr := parts[0], parts[1]

	switch state {
	case "running", "created", "restarting":
		return BackendStatusResult{Status: BackendRunning}, nil
	case "exited":
		code, _ := strconv.Atoi(exitStr)
		status := BackendSuccess
		if code != 0 {
			status = BackendFailed
		}
		return BackendStatusResult{Status: status, ExitCode: &code}, nil
	default:
		return BackendStatusResult{Status: BackendUnknown}, nil
	}
}

func (b *DockerBackend) Cancel(ctx context.Context, jobName string) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "stop", "--time=10", jobName)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("docker stop: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return true, nil
}

func (b *DockerBackend) Logs(ctx context.Context, jobName string, tailLines int) (string, error) {
	if tailLines <= 0 {
		tailLines = 100
	}
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "logs", "--tail="+strconv.Itoa(tailLines), jobName)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker logs: %w", err)
	}
	return stdout.String(), nil
}
