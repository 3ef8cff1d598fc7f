// Package docker runs evaluation sandboxes through the local Docker
// daemon via the docker CLI.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/swarmnet/validator/internal/sandbox"
)

// Runner is the Docker sandbox backend.
type Runner struct{}

// NewRunner creates a Docker runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Name returns the backend name.
func (r *Runner) Name() string {
	return "docker"
}

// ImageExists reports whether the image tag is present locally.
func (r *Runner) ImageExists(ctx context.Context, tag string) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "image", "inspect", tag)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("inspecting image: %w: %s", err, stderr.String())
	}
	return true, nil
}

// BuildImage builds the sandbox image from the given context directory.
func (r *Runner) BuildImage(ctx context.Context, contextDir, tag string) error {
	cmd := exec.CommandContext(ctx, "docker", "build", "-t", tag, contextDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("building docker image: %w", err)
	}
	return nil
}

// Run executes the sandbox to completion under the hardened profile:
// no network, capped memory, CPU, process count, file descriptors and
// file size, no privilege escalation, unprivileged user. The shared
// directory is the only writable mount.
func (r *Runner) Run(ctx context.Context, spec sandbox.RunSpec) (sandbox.RunStatus, error) {
	args := []string{
		"run",
		"--name", spec.Name,
		"--network", "none",
		"--security-opt", "no-new-privileges",
		"--user", "1000:1000",
	}
	if spec.Limits.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", spec.Limits.MemoryMB))
	}
	if spec.Limits.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.Limits.CPUs, 'f', -1, 64))
	}
	if spec.Limits.Pids > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(spec.Limits.Pids))
	}
	if spec.Limits.NoFile > 0 {
		args = append(args, "--ulimit", fmt.Sprintf("nofile=%d:%d", spec.Limits.NoFile, spec.Limits.NoFile))
	}
	if spec.Limits.FsizeMB > 0 {
		fsize := int64(spec.Limits.FsizeMB) * 1024 * 1024
		args = append(args, "--ulimit", fmt.Sprintf("fsize=%d:%d", fsize, fsize))
	}
	args = append(args, "-v", fmt.Sprintf("%s:/shared", spec.SharedDir))
	if spec.ModelDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/model:ro", spec.ModelDir))
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)

	runCtx := ctx
	if spec.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Limits.Timeout)
		defer cancel()
	}

	cmd := exec.Command("docker", args...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return sandbox.RunStatus{}, fmt.Errorf("starting docker run: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return sandbox.RunStatus{ExitCode: exitErr.ExitCode()}, nil
			}
			return sandbox.RunStatus{}, fmt.Errorf("running sandbox: %w: %s", err, stderr.String())
		}
		return sandbox.RunStatus{ExitCode: 0}, nil

	case <-runCtx.Done():
		// The CLI process tracks the container, so stopping the
		// container terminates it too.
		r.stop(spec.Name, spec.Limits.Grace)
		<-done
		if runCtx.Err() == context.DeadlineExceeded {
			return sandbox.RunStatus{ExitCode: -1, TimedOut: true}, nil
		}
		return sandbox.RunStatus{}, runCtx.Err()
	}
}

// stop sends SIGTERM and escalates to SIGKILL after the grace period.
func (r *Runner) stop(name string, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace+30*time.Second)
	defer cancel()

	secs := int(grace.Seconds())
	if secs < 1 {
		secs = 1
	}
	cmd := exec.CommandContext(ctx, "docker", "stop", "-t", strconv.Itoa(secs), name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil && !isMissingOrStopped(stderr.String()) {
		slog.Warn("stopping sandbox", "name", name, "error", err, "stderr", stderr.String())
	}
}

// Kill stops a running sandbox. Already-stopped or missing sandboxes
// are not an error.
func (r *Runner) Kill(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "docker", "kill", name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isMissingOrStopped(stderr.String()) {
			return nil
		}
		return fmt.Errorf("killing sandbox: %w: %s", err, stderr.String())
	}
	return nil
}

// Remove deletes a stopped sandbox. Missing sandboxes are not an error.
func (r *Runner) Remove(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isMissingOrStopped(stderr.String()) {
			return nil
		}
		return fmt.Errorf("removing sandbox: %w: %s", err, stderr.String())
	}
	return nil
}

// List returns names of containers whose name starts with prefix,
// running or stopped.
func (r *Runner) List(ctx context.Context, prefix string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "docker", "ps", "-a",
		"--filter", fmt.Sprintf("name=%s", prefix),
		"--format", "{{.Names}}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("listing sandboxes: %w: %s", err, stderr.String())
	}

	var names []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			names = append(names, line)
		}
	}
	return names, nil
}

func isMissingOrStopped(stderr string) bool {
	return strings.Contains(stderr, "No such container") ||
		strings.Contains(stderr, "is not running") ||
		strings.Contains(stderr, "already in progress")
}
