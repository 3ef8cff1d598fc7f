// Package config loads the validator configuration: round settings
// from validator.yaml and sandbox resource profiles from limits.toml.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/swarmnet/validator/internal/aggregate"
	"github.com/swarmnet/validator/internal/replay"
	"github.com/swarmnet/validator/internal/round"
)

// RoundConfig paces and shapes the evaluation loop.
type RoundConfig struct {
	// IntervalSec is the delay between consecutive rounds.
	IntervalSec float64 `yaml:"interval_sec"`
	// FetchWidth bounds concurrent artifact refreshes.
	FetchWidth int `yaml:"fetch_width"`
	// Beta is the sharpness of the score boost transform.
	Beta float64 `yaml:"beta"`
}

// ArtifactConfig bounds accepted submissions.
type ArtifactConfig struct {
	// MaxBlobMB caps the transferred archive size.
	MaxBlobMB int64 `yaml:"max_blob_mb"`
	// MaxUncompressedMB caps the cumulative uncompressed size across
	// all archive entries.
	MaxUncompressedMB int64 `yaml:"max_uncompressed_mb"`
}

// ModalConfig selects the Modal sandbox backend.
type ModalConfig struct {
	AppName string   `yaml:"app_name"`
	Regions []string `yaml:"regions"`
	// Image is the pre-pushed registry reference of the evaluation
	// image; Modal cannot build from a local context.
	Image string `yaml:"image"`
}

// Config is the full validator configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// DataDir holds the artifact cache, blacklist, verdict store and
	// evidence archive.
	DataDir string `yaml:"data_dir"`
	// Backend selects the sandbox runner: "docker" or "modal".
	Backend string `yaml:"backend"`
	// ImageTag and ImageContext identify the evaluation image and the
	// directory it builds from.
	ImageTag     string `yaml:"image_tag"`
	ImageContext string `yaml:"image_context"`
	// TransportDir, when set, serves artifacts from a local directory
	// instead of the network transport.
	TransportDir string `yaml:"transport_dir"`
	// LimitsPath points at the limits.toml resource profiles. Empty
	// uses the built-in defaults.
	LimitsPath string `yaml:"limits_path"`

	Round    RoundConfig            `yaml:"round"`
	Artifact ArtifactConfig         `yaml:"artifact"`
	Burn     aggregate.BurnConfig   `yaml:"burn"`
	Envelope replay.LandingEnvelope `yaml:"envelope"`
	Energy   replay.EnergyParams    `yaml:"energy"`
	Task     round.TaskGen          `yaml:"task"`
	Modal    ModalConfig            `yaml:"modal"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:     "info",
		DataDir:      "data",
		Backend:      "docker",
		ImageTag:     "swarm-eval:latest",
		ImageContext: "images/eval",
		Round: RoundConfig{
			IntervalSec: 300,
			FetchWidth:  8,
			Beta:        aggregate.DefaultBeta,
		},
		Artifact: ArtifactConfig{
			MaxBlobMB:         600,
			MaxUncompressedMB: 1024,
		},
		Burn:     aggregate.DefaultBurnConfig(),
		Envelope: replay.DefaultLandingEnvelope(),
		Energy:   replay.DefaultEnergyParams(),
		Task:     round.DefaultTaskGen(),
	}
}

// LoadConfig loads and parses a validator.yaml file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	switch cfg.Backend {
	case "docker":
	case "modal":
		if cfg.Modal.Image == "" {
			return cfg, fmt.Errorf("modal backend requires modal.image")
		}
	default:
		return cfg, fmt.Errorf("unknown backend %q (want docker or modal)", cfg.Backend)
	}

	// Apply defaults for missing values
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.ImageTag == "" {
		cfg.ImageTag = "swarm-eval:latest"
	}
	if cfg.Round.FetchWidth == 0 {
		cfg.Round.FetchWidth = 8
	}
	if cfg.Round.Beta == 0 {
		cfg.Round.Beta = aggregate.DefaultBeta
	}
	if cfg.Artifact.MaxBlobMB == 0 {
		cfg.Artifact.MaxBlobMB = 600
	}
	if cfg.Artifact.MaxUncompressedMB == 0 {
		cfg.Artifact.MaxUncompressedMB = 1024
	}

	return cfg, nil
}
