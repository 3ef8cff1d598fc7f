// Package modal runs evaluation sandboxes on Modal's remote sandbox
// infrastructure through the modal-go SDK.
//
// Modal enforces CPU, memory and wall-clock limits natively. Process
// count, file descriptor and file size limits have no Modal
// equivalent, so those fields of the limits profile are ignored here;
// the deterministic replay still bounds what a runaway sandbox can
// score.
package modal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	modal "github.com/modal-labs/libmodal/modal-go"

	"github.com/swarmnet/validator/internal/sandbox"
)

// Config holds Modal-specific settings.
type Config struct {
	// AppName is the Modal app evaluation sandboxes run under.
	AppName string `yaml:"app_name"`
	// Regions restricts sandbox placement (e.g., "us-east").
	Regions []string `yaml:"regions"`
	// Image is the registry reference of the evaluation image. Modal
	// cannot build from a local context directory, so the image must be
	// pre-pushed.
	Image string `yaml:"image"`
}

// Runner is the Modal sandbox backend.
type Runner struct {
	client *modal.Client
	config Config

	mu        sync.Mutex
	app       *modal.App
	sandboxes map[string]*modal.Sandbox
}

// NewRunner creates a Modal runner. Credentials come from the ambient
// Modal configuration.
func NewRunner(config Config) (*Runner, error) {
	if config.Image == "" {
		return nil, fmt.Errorf("modal backend requires a registry image reference")
	}
	if config.AppName == "" {
		config.AppName = "swarm-validator"
	}

	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating modal client: %w", err)
	}
	return &Runner{
		client:    client,
		config:    config,
		sandboxes: make(map[string]*modal.Sandbox),
	}, nil
}

// Name returns the backend name.
func (r *Runner) Name() string {
	return "modal"
}

// ImageExists reports whether the evaluation image is usable. Modal
// pulls registry images lazily, so a configured reference is treated
// as available.
func (r *Runner) ImageExists(ctx context.Context, tag string) (bool, error) {
	return r.config.Image != "", nil
}

// BuildImage is unsupported: Modal sandboxes run pre-pushed registry
// images only.
func (r *Runner) BuildImage(ctx context.Context, contextDir, tag string) error {
	return fmt.Errorf("modal backend cannot build images locally; push %s to a registry and set image in the modal config", tag)
}

// Run creates a sandbox, copies the staged directories in, executes
// the evaluation command and copies /shared back out.
func (r *Runner) Run(ctx context.Context, spec sandbox.RunSpec) (sandbox.RunStatus, error) {
	app, err := r.ensureApp(ctx)
	if err != nil {
		return sandbox.RunStatus{}, err
	}

	image := r.client.Images.FromRegistry(r.config.Image, nil)

	cpu := spec.Limits.CPUs
	if cpu <= 0 {
		cpu = 1
	}
	memoryMiB := spec.Limits.MemoryMB
	if memoryMiB <= 0 {
		memoryMiB = 2048
	}
	timeout := spec.Limits.Timeout + spec.Limits.Grace
	if timeout <= 0 {
		timeout = time.Hour
	}

	sb, err := r.client.Sandboxes.Create(ctx, app, image, &modal.SandboxCreateParams{
		CPU:       cpu,
		MemoryMiB: memoryMiB,
		Timeout:   timeout,
		Regions:   r.config.Regions,
	})
	if err != nil {
		return sandbox.RunStatus{}, fmt.Errorf("creating modal sandbox: %w", err)
	}
	r.track(spec.Name, sb)

	slog.Debug("modal sandbox created", "name", spec.Name, "sandbox_id", sb.SandboxID)

	if err := r.copyDirTo(ctx, sb, spec.SharedDir, "/shared"); err != nil {
		return sandbox.RunStatus{}, fmt.Errorf("staging shared directory: %w", err)
	}
	if spec.ModelDir != "" {
		if err := r.copyDirTo(ctx, sb, spec.ModelDir, "/model"); err != nil {
			return sandbox.RunStatus{}, fmt.Errorf("staging model directory: %w", err)
		}
	}

	command := spec.Cmd
	if len(command) == 0 {
		command = []string{"/entrypoint.sh"}
	}

	execParams := &modal.SandboxExecParams{Env: spec.Env}
	if spec.Limits.Timeout > 0 {
		execParams.Timeout = spec.Limits.Timeout
	}

	process, err := sb.Exec(ctx, command, execParams)
	if err != nil {
		return sandbox.RunStatus{}, fmt.Errorf("executing in modal sandbox: %w", err)
	}
	io.Copy(io.Discard, process.Stdout)
	io.Copy(io.Discard, process.Stderr)

	exitCode, err := process.Wait(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || strings.Contains(err.Error(), "timeout") {
			return sandbox.RunStatus{ExitCode: -1, TimedOut: true}, nil
		}
		return sandbox.RunStatus{}, fmt.Errorf("waiting for modal process: %w", err)
	}

	if err := r.copyDirFrom(ctx, sb, "/shared", spec.SharedDir); err != nil {
		return sandbox.RunStatus{}, fmt.Errorf("collecting shared directory: %w", err)
	}
	return sandbox.RunStatus{ExitCode: exitCode}, nil
}

// Kill terminates the sandbox. Unknown or already-terminated sandboxes
// are not an error.
func (r *Runner) Kill(ctx context.Context, name string) error {
	sb := r.lookup(name)
	if sb == nil {
		return nil
	}
	if err := sb.Terminate(ctx); err != nil {
		if strings.Contains(err.Error(), "already terminated") ||
			strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("terminating modal sandbox: %w", err)
	}
	return nil
}

// Remove forgets the sandbox. Modal reclaims terminated sandbox
// resources itself.
func (r *Runner) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sandboxes, name)
	return nil
}

// List returns tracked sandbox names with the given prefix. Sandboxes
// from a previous validator process are not reachable by name through
// the SDK; Modal's own timeout reclaims them.
func (r *Runner) List(ctx context.Context, prefix string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name := range r.sandboxes {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (r *Runner) ensureApp(ctx context.Context) (*modal.App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.app != nil {
		return r.app, nil
	}

	app, err := r.client.Apps.FromName(ctx, r.config.AppName, &modal.AppFromNameParams{
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving modal app %s: %w", r.config.AppName, err)
	}
	r.app = app
	return app, nil
}

func (r *Runner) track(name string, sb *modal.Sandbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sandboxes[name] = sb
}

func (r *Runner) lookup(name string) *modal.Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sandboxes[name]
}

func (r *Runner) copyDirTo(ctx context.Context, sb *modal.Sandbox, src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			return r.execSimple(ctx, sb, fmt.Sprintf("mkdir -p %q", dstPath))
		}
		return r.copyFileTo(ctx, sb, path, dstPath)
	})
}

func (r *Runner) copyFileTo(ctx context.Context, sb *modal.Sandbox, src, dst string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	f, err := sb.Open(ctx, dst, "w")
	if err != nil {
		return fmt.Errorf("opening %s in sandbox: %w", dst, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing %s in sandbox: %w", dst, err)
	}
	if err := f.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s in sandbox: %w", dst, err)
	}
	return f.Close()
}

func (r *Runner) copyDirFrom(ctx context.Context, sb *modal.Sandbox, src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("creating local directory: %w", err)
	}

	var stdout strings.Builder
	process, err := sb.Exec(ctx, []string{"find", src, "-maxdepth", "1", "-mindepth", "1"}, &modal.SandboxExecParams{})
	if err != nil {
		return fmt.Errorf("listing sandbox directory: %w", err)
	}
	io.Copy(&stdout, process.Stdout)
	io.Copy(io.Discard, process.Stderr)
	if _, err := process.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for find: %w", err)
	}

	for _, entry := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		if entry == "" {
			continue
		}
		dstPath := filepath.Join(dst, filepath.Base(entry))

		if r.execSimple(ctx, sb, fmt.Sprintf("test -d %q", entry)) == nil {
			if err := r.copyDirFrom(ctx, sb, entry, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := r.copyFileFrom(ctx, sb, entry, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) copyFileFrom(ctx context.Context, sb *modal.Sandbox, src, dst string) error {
	f, err := sb.Open(ctx, src, "r")
	if err != nil {
		return fmt.Errorf("opening %s in sandbox: %w", src, err)
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s in sandbox: %w", src, err)
	}
	return os.WriteFile(dst, content, 0o644)
}

func (r *Runner) execSimple(ctx context.Context, sb *modal.Sandbox, cmd string) error {
	process, err := sb.Exec(ctx, []string{"bash", "-c", cmd}, &modal.SandboxExecParams{})
	if err != nil {
		return err
	}
	io.Copy(io.Discard, process.Stdout)
	io.Copy(io.Discard, process.Stderr)
	exitCode, err := process.Wait(ctx)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("command %q exited with code %d", cmd, exitCode)
	}
	return nil
}
