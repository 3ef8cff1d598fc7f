package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Host guards the evaluation base image: it builds the image once and
// keeps sandboxed runs from starting before the image is available.
// Safe for concurrent use.
type Host struct {
	runner     Runner
	contextDir string
	tag        string

	mu    sync.Mutex
	ready bool
}

// NewHost creates a host service for the given backend and image.
func NewHost(runner Runner, contextDir, tag string) *Host {
	return &Host{runner: runner, contextDir: contextDir, tag: tag}
}

// Tag returns the evaluation image tag.
func (h *Host) Tag() string {
	return h.tag
}

// Ready reports whether the image has been verified or built.
func (h *Host) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// EnsureReady verifies the evaluation image exists, building it from
// the context directory if it does not. Subsequent calls are cheap.
func (h *Host) EnsureReady(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready {
		return nil
	}

	exists, err := h.runner.ImageExists(ctx, h.tag)
	if err != nil {
		return fmt.Errorf("checking image %s: %w", h.tag, err)
	}
	if !exists {
		slog.Info("building evaluation image", "tag", h.tag, "backend", h.runner.Name())
		if err := h.runner.BuildImage(ctx, h.contextDir, h.tag); err != nil {
			return fmt.Errorf("building image %s: %w", h.tag, err)
		}
	}

	h.ready = true
	return nil
}

// CleanupStale removes leftover sandboxes from previous validator runs.
// Called at startup before the first round.
func (h *Host) CleanupStale(ctx context.Context, prefix string) error {
	names, err := h.runner.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("listing sandboxes: %w", err)
	}
	for _, name := range names {
		slog.Warn("removing stale sandbox", "name", name)
		if err := h.runner.Kill(ctx, name); err != nil {
			return fmt.Errorf("killing stale sandbox %s: %w", name, err)
		}
		if err := h.runner.Remove(ctx, name); err != nil {
			return fmt.Errorf("removing stale sandbox %s: %w", name, err)
		}
	}
	return nil
}
