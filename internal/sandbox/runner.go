// Package sandbox isolates untrusted policy evaluation inside hardened
// containers and turns container outcomes into evaluation results.
package sandbox

import (
	"context"
	"time"
)

// Limits caps the resources one sandboxed run may consume.
type Limits struct {
	// CPUs is the CPU quota (fractional allowed).
	CPUs float64
	// MemoryMB is the memory cap in MiB.
	MemoryMB int
	// Pids caps the number of processes inside the sandbox.
	Pids int
	// NoFile caps open file descriptors.
	NoFile int
	// FsizeMB caps the size of any single file the sandbox writes.
	FsizeMB int
	// Timeout is the wall-clock budget for the run.
	Timeout time.Duration
	// Grace is how long a killed sandbox gets to exit before SIGKILL.
	Grace time.Duration
}

// RunSpec describes one sandboxed run. SharedDir is visible read-write
// at /shared inside the sandbox; files the sandbox writes there are
// present in SharedDir after Run returns. ModelDir, when set, is
// visible read-only at /model.
type RunSpec struct {
	Name      string
	Image     string
	SharedDir string
	ModelDir  string
	Cmd       []string
	Env       map[string]string
	Limits    Limits
}

// RunStatus is the terminal state of a sandboxed run.
type RunStatus struct {
	ExitCode int
	TimedOut bool
}

// Runner abstracts a sandbox backend. Kill and Remove are idempotent:
// acting on a sandbox that is already stopped or gone is not an error.
type Runner interface {
	// Name returns the backend name (e.g., "docker", "modal").
	Name() string

	// ImageExists reports whether the image tag is available locally.
	ImageExists(ctx context.Context, tag string) (bool, error)

	// BuildImage builds the sandbox image from the given context directory.
	BuildImage(ctx context.Context, contextDir, tag string) error

	// Run executes the sandbox to completion, enforcing spec.Limits.
	// It blocks until the sandbox exits, the timeout fires, or ctx is
	// cancelled.
	Run(ctx context.Context, spec RunSpec) (RunStatus, error)

	// Kill stops a running sandbox.
	Kill(ctx context.Context, name string) error

	// Remove deletes a stopped sandbox and its resources.
	Remove(ctx context.Context, name string) error

	// List returns the names of sandboxes whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
