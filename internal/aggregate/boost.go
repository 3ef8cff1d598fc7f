// Package aggregate turns per-participant scores into the normalized
// weight vector published at the end of a round.
package aggregate

import (
	"math"
	"sort"

	"github.com/swarmnet/validator/internal/models"
)

// DefaultBeta is the sharpness of the exponential boost. Larger values
// concentrate more weight on the top score.
const DefaultBeta = 5.0

// degenerateStddev is the spread below which the score population is
// treated as uniform.
const degenerateStddev = 1e-9

// Boost maps raw scores to relative weights in (0, 1] with an
// exponential transform centered on the maximum score. The best
// participant always receives weight 1; everyone else decays with
// their distance from the top, measured in population standard
// deviations. In a degenerate population only scores equal to the
// maximum receive weight 1; the rest receive 0.
func Boost(scores map[string]float64, beta float64) map[string]float64 {
	weights := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return weights
	}

	max := math.Inf(-1)
	mean := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
		mean += s
	}
	mean /= float64(len(scores))

	variance := 0.0
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(len(scores)))

	if sigma < degenerateStddev {
		for id, s := range scores {
			if s == max {
				weights[id] = 1.0
			} else {
				weights[id] = 0.0
			}
		}
		return weights
	}

	for id, s := range scores {
		weights[id] = math.Exp(beta * (s - max) / sigma)
	}
	return weights
}

// BurnConfig reserves a fraction of the total weight for a designated
// participant before publication.
type BurnConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ParticipantID string  `yaml:"participant_id"`
	Fraction      float64 `yaml:"fraction"`
}

// DefaultBurnConfig reserves 90% of the emission for participant "0".
func DefaultBurnConfig() BurnConfig {
	return BurnConfig{Enabled: true, ParticipantID: "0", Fraction: 0.90}
}

// ApplyBurn rescales the weight vector so the reserved participant
// holds exactly the configured fraction and the remainder is split
// among the others in proportion to their boosted weights. The
// reserved participant's own earned weight is discarded first. When
// the non-reserved total is zero the others all receive zero; the
// reserved participant always holds exactly the fraction.
func ApplyBurn(weights map[string]float64, cfg BurnConfig) []models.Weight {
	rest := make(map[string]float64, len(weights))
	for id, w := range weights {
		if cfg.Enabled && id == cfg.ParticipantID {
			continue
		}
		rest[id] = w
	}

	if !cfg.Enabled {
		return sortedWeights(rest)
	}

	total := 0.0
	for _, w := range rest {
		total += w
	}

	out := make([]models.Weight, 0, len(rest)+1)
	out = append(out, models.Weight{ParticipantID: cfg.ParticipantID, Weight: cfg.Fraction})
	scale := 0.0
	if total > 0 {
		scale = (1 - cfg.Fraction) / total
	}
	for id, w := range rest {
		out = append(out, models.Weight{ParticipantID: id, Weight: w * scale})
	}
	sort.Slice(out[1:], func(i, j int) bool {
		return out[i+1].ParticipantID < out[j+1].ParticipantID
	})
	return out
}

func sortedWeights(weights map[string]float64) []models.Weight {
	out := make([]models.Weight, 0, len(weights))
	for id, w := range weights {
		out = append(out, models.Weight{ParticipantID: id, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}
