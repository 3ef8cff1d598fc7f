package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmnet/validator/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	validatorYaml := `log_level: debug
data_dir: /var/lib/swarm
backend: docker
image_tag: swarm-eval:v3
round:
  interval_sec: 120
  fetch_width: 4
  beta: 3.0
artifact:
  max_blob_mb: 200
burn:
  enabled: true
  participant_id: "0"
  fraction: 0.8
envelope:
  pad_radius: 0.8
task:
  r_min: 5
  r_max: 15
`

	cfg, err := config.LoadConfig(writeFile(t, "validator.yaml", validatorYaml))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.LogLevel)
	}
	if cfg.DataDir != "/var/lib/swarm" {
		t.Errorf("expected data_dir /var/lib/swarm, got %s", cfg.DataDir)
	}
	if cfg.ImageTag != "swarm-eval:v3" {
		t.Errorf("expected image_tag swarm-eval:v3, got %s", cfg.ImageTag)
	}
	if cfg.Round.IntervalSec != 120 {
		t.Errorf("expected interval 120, got %f", cfg.Round.IntervalSec)
	}
	if cfg.Round.FetchWidth != 4 {
		t.Errorf("expected fetch_width 4, got %d", cfg.Round.FetchWidth)
	}
	if cfg.Round.Beta != 3.0 {
		t.Errorf("expected beta 3.0, got %f", cfg.Round.Beta)
	}
	if cfg.Artifact.MaxBlobMB != 200 {
		t.Errorf("expected max_blob_mb 200, got %d", cfg.Artifact.MaxBlobMB)
	}
	// Unset fields keep their defaults.
	if cfg.Artifact.MaxUncompressedMB != 1024 {
		t.Errorf("expected default max_uncompressed_mb, got %d", cfg.Artifact.MaxUncompressedMB)
	}
	if cfg.Burn.Fraction != 0.8 {
		t.Errorf("expected burn fraction 0.8, got %f", cfg.Burn.Fraction)
	}
	if cfg.Envelope.PadRadius != 0.8 {
		t.Errorf("expected pad_radius 0.8, got %f", cfg.Envelope.PadRadius)
	}
	if cfg.Envelope.StableSec != 1.0 {
		t.Errorf("expected default stable_sec, got %f", cfg.Envelope.StableSec)
	}
	if cfg.Task.RMin != 5 || cfg.Task.RMax != 15 {
		t.Errorf("expected task radii 5/15, got %f/%f", cfg.Task.RMin, cfg.Task.RMax)
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	if _, err := config.LoadConfig(writeFile(t, "validator.yaml", "backend: firecracker\n")); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadConfigModalRequiresImage(t *testing.T) {
	if _, err := config.LoadConfig(writeFile(t, "validator.yaml", "backend: modal\n")); err == nil {
		t.Fatal("expected error for modal backend without image")
	}

	cfg, err := config.LoadConfig(writeFile(t, "validator.yaml",
		"backend: modal\nmodal:\n  image: registry.example.com/swarm-eval:v3\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Modal.Image != "registry.example.com/swarm-eval:v3" {
		t.Errorf("modal image = %s", cfg.Modal.Image)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Backend != "docker" {
		t.Errorf("expected default backend docker, got %s", cfg.Backend)
	}
	if cfg.Round.Beta != 5.0 {
		t.Errorf("expected default beta 5.0, got %f", cfg.Round.Beta)
	}
	if !cfg.Burn.Enabled || cfg.Burn.ParticipantID != "0" || cfg.Burn.Fraction != 0.90 {
		t.Errorf("unexpected default burn config: %+v", cfg.Burn)
	}
	if cfg.Envelope.PadRadius != 0.6 {
		t.Errorf("expected default pad_radius 0.6, got %f", cfg.Envelope.PadRadius)
	}
}

func TestLoadLimits(t *testing.T) {
	limitsToml := `[evaluate]
timeout_sec = 180.0
memory = "6G"
cpus = 2
pids = 20

[verify]
timeout_sec = 30.0
memory_mb = 2048
cpus = 1
`

	cfg, err := config.LoadLimits(writeFile(t, "limits.toml", limitsToml))
	if err != nil {
		t.Fatalf("LoadLimits failed: %v", err)
	}

	if cfg.Evaluate.TimeoutSec != 180.0 {
		t.Errorf("expected evaluate timeout 180, got %f", cfg.Evaluate.TimeoutSec)
	}
	if cfg.Evaluate.MemoryMB != 6144 {
		t.Errorf("expected memory 6G -> 6144 MiB, got %d", cfg.Evaluate.MemoryMB)
	}
	if cfg.Evaluate.Pids != 20 {
		t.Errorf("expected pids 20, got %d", cfg.Evaluate.Pids)
	}
	if cfg.Verify.MemoryMB != 2048 {
		t.Errorf("expected verify memory_mb 2048, got %d", cfg.Verify.MemoryMB)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Evaluate.NoFile != 64 {
		t.Errorf("expected default nofile 64, got %d", cfg.Evaluate.NoFile)
	}
	if cfg.Verify.GraceSec != 5 {
		t.Errorf("expected default verify grace 5, got %f", cfg.Verify.GraceSec)
	}
}

func TestLimitsProfileSandbox(t *testing.T) {
	limits := config.DefaultLimits().Evaluate.Sandbox()

	if limits.Timeout != 300*time.Second {
		t.Errorf("timeout = %s", limits.Timeout)
	}
	if limits.Grace != 10*time.Second {
		t.Errorf("grace = %s", limits.Grace)
	}
	if limits.MemoryMB != 6144 || limits.CPUs != 2 || limits.Pids != 20 {
		t.Errorf("unexpected limits: %+v", limits)
	}
}
