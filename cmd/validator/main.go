package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/swarmnet/validator/internal/blacklist"
	"github.com/swarmnet/validator/internal/config"
	"github.com/swarmnet/validator/internal/gate"
	"github.com/swarmnet/validator/internal/replay"
	"github.com/swarmnet/validator/internal/round"
	"github.com/swarmnet/validator/internal/sandbox"
	"github.com/swarmnet/validator/internal/sandbox/docker"
	"github.com/swarmnet/validator/internal/sandbox/modal"
	"github.com/swarmnet/validator/internal/transport"
	"github.com/swarmnet/validator/internal/verifier"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: validator <validator.yaml>")
		os.Exit(1)
	}

	configPath := os.Args[1]

	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
		cancel()
	}()

	if err := run(ctx, configPath); err != nil {
		slog.Error("validator stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	limits := config.DefaultLimits()
	if cfg.LimitsPath != "" {
		limits, err = config.LoadLimits(cfg.LimitsPath)
		if err != nil {
			return err
		}
	}

	if cfg.TransportDir == "" {
		return fmt.Errorf("transport_dir is required: point it at the artifact directory served by your transport")
	}

	bl, err := blacklist.Open(filepath.Join(cfg.DataDir, "blacklist.json"))
	if err != nil {
		return err
	}
	verdicts, err := verifier.OpenStore(filepath.Join(cfg.DataDir, "verdicts.json"))
	if err != nil {
		return err
	}

	cacheDir := filepath.Join(cfg.DataDir, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	runner, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	host := sandbox.NewHost(runner, cfg.ImageContext, cfg.ImageTag)
	if err := host.CleanupStale(ctx, "swarm-"); err != nil {
		slog.Warn("cleaning stale sandboxes", "error", err)
	}

	client := &transport.DirClient{Root: cfg.TransportDir}
	cache := &gate.Cache{
		Dir: cacheDir,
		Gate: &gate.Gate{
			MaxUncompressed: cfg.Artifact.MaxUncompressedMB << 20,
			Blacklist:       bl,
		},
		Transport:    client,
		MaxBlobBytes: cfg.Artifact.MaxBlobMB << 20,
	}

	orchestrator := &sandbox.Orchestrator{
		Runner: runner,
		Host:   host,
		Engine: &replay.Engine{
			Sim:      replay.NewPointMass(),
			Envelope: cfg.Envelope,
			Energy:   cfg.Energy,
		},
		EvalLimits:   limits.Evaluate.Sandbox(),
		VerifyLimits: limits.Verify.Sandbox(),
	}

	check := &verifier.Verifier{
		Store:       verdicts,
		Inspector:   orchestrator,
		Blacklist:   bl,
		Cache:       cache,
		EvidenceDir: filepath.Join(cfg.DataDir, "evidence"),
	}

	rounds := &round.Runner{
		Roster:     client,
		Cache:      cache,
		Checker:    check,
		Evaluator:  orchestrator,
		Publisher:  &round.FilePublisher{Dir: filepath.Join(cfg.DataDir, "rounds")},
		TaskGen:    cfg.Task,
		Beta:       cfg.Round.Beta,
		Burn:       cfg.Burn,
		FetchWidth: cfg.Round.FetchWidth,
	}

	interval := time.Duration(cfg.Round.IntervalSec * float64(time.Second))
	slog.Info("validator started",
		"backend", runner.Name(),
		"data_dir", cfg.DataDir,
		"interval", interval)

	for {
		seed := time.Now().UnixNano()
		if _, err := rounds.Run(ctx, seed); err != nil {
			if ctx.Err() != nil {
				slog.Info("validator stopped")
				return nil
			}
			slog.Error("round failed", "seed", seed, "error", err)
		}

		// A crashed or interrupted evaluation can leave a sandbox behind;
		// reclaim by name prefix before the next round starts.
		if err := host.CleanupStale(ctx, "swarm-"); err != nil {
			slog.Warn("cleaning stale sandboxes", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("validator stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

func buildRunner(cfg config.Config) (sandbox.Runner, error) {
	switch cfg.Backend {
	case "modal":
		return modal.NewRunner(modal.Config{
			AppName: cfg.Modal.AppName,
			Regions: cfg.Modal.Regions,
			Image:   cfg.Modal.Image,
		})
	default:
		return docker.NewRunner(), nil
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
