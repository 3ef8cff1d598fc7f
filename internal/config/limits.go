package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/swarmnet/validator/internal/sandbox"
	"github.com/swarmnet/validator/internal/util"
)

// LimitsProfile is one sandbox resource profile from limits.toml.
// Memory accepts human quantities ("6G", "512M"); memory_mb takes
// precedence when both are given.
type LimitsProfile struct {
	TimeoutSec float64 `toml:"timeout_sec"`
	Memory     string  `toml:"memory"`
	MemoryMB   int     `toml:"memory_mb"`
	CPUs       float64 `toml:"cpus"`
	Pids       int     `toml:"pids"`
	NoFile     int     `toml:"nofile"`
	FsizeMB    int     `toml:"fsize_mb"`
	GraceSec   float64 `toml:"grace_sec"`
}

// Sandbox converts the profile to runner limits.
func (p LimitsProfile) Sandbox() sandbox.Limits {
	return sandbox.Limits{
		CPUs:     p.CPUs,
		MemoryMB: p.MemoryMB,
		Pids:     p.Pids,
		NoFile:   p.NoFile,
		FsizeMB:  p.FsizeMB,
		Timeout:  time.Duration(p.TimeoutSec * float64(time.Second)),
		Grace:    time.Duration(p.GraceSec * float64(time.Second)),
	}
}

// Limits holds the two resource profiles: the scored evaluation run
// and the tighter verify-only pass.
type Limits struct {
	Evaluate LimitsProfile `toml:"evaluate"`
	Verify   LimitsProfile `toml:"verify"`
}

// DefaultLimits returns the hardened competition profiles.
func DefaultLimits() Limits {
	return Limits{
		Evaluate: LimitsProfile{
			TimeoutSec: 300,
			MemoryMB:   6144, // 6G
			CPUs:       2,
			Pids:       20,
			NoFile:     64,
			FsizeMB:    500,
			GraceSec:   10,
		},
		Verify: LimitsProfile{
			TimeoutSec: 60,
			MemoryMB:   4096, // 4G
			CPUs:       1,
			Pids:       10,
			NoFile:     64,
			FsizeMB:    100,
			GraceSec:   5,
		},
	}
}

// LoadLimits loads and parses a limits.toml file.
func LoadLimits(path string) (Limits, error) {
	cfg := DefaultLimits()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading limits: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing limits: %w", err)
	}

	// Resolve 'memory' strings when 'memory_mb' is not explicitly set.
	for _, profile := range []struct {
		name string
		p    *LimitsProfile
	}{
		{"evaluate", &cfg.Evaluate},
		{"verify", &cfg.Verify},
	} {
		if md.IsDefined(profile.name, "memory_mb") || !md.IsDefined(profile.name, "memory") {
			continue
		}
		mb, err := util.ParseMemory(profile.p.Memory)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s memory %q: %w", profile.name, profile.p.Memory, err)
		}
		profile.p.MemoryMB = mb
	}

	return cfg, nil
}
