package aggregate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmnet/validator/internal/models"
)

func TestBoostTopScoreGetsFullWeight(t *testing.T) {
	scores := map[string]float64{"1": 0.2, "2": 0.9, "3": 0.5}
	weights := Boost(scores, DefaultBeta)

	assert.Equal(t, 1.0, weights["2"])
	assert.Less(t, weights["3"], 1.0)
	assert.Less(t, weights["1"], weights["3"])
	for id, w := range weights {
		assert.Greater(t, w, 0.0, "participant %s", id)
	}
}

func TestBoostIdenticalScoresAreUniform(t *testing.T) {
	scores := map[string]float64{"1": 0.4, "2": 0.4, "3": 0.4}
	weights := Boost(scores, DefaultBeta)

	for id, w := range weights {
		assert.Equal(t, 1.0, w, "participant %s", id)
	}
}

func TestBoostDegenerateOnlyMaxWins(t *testing.T) {
	// Scores separated by less than the degenerate threshold still have
	// a unique maximum; only that score earns weight.
	scores := map[string]float64{"1": 0.5, "2": 0.5 + 1e-12}
	weights := Boost(scores, DefaultBeta)

	assert.Equal(t, 0.0, weights["1"])
	assert.Equal(t, 1.0, weights["2"])
}

func TestBoostSharpness(t *testing.T) {
	scores := map[string]float64{"1": 0.1, "2": 0.9}
	mild := Boost(scores, 1.0)
	sharp := Boost(scores, 10.0)

	assert.Less(t, sharp["1"], mild["1"])
	assert.Equal(t, 1.0, sharp["2"])
}

func TestBoostEmptyAndSingle(t *testing.T) {
	assert.Empty(t, Boost(nil, DefaultBeta))

	weights := Boost(map[string]float64{"7": 0.3}, DefaultBeta)
	assert.Equal(t, map[string]float64{"7": 1.0}, weights)
}

func TestApplyBurnReservesFraction(t *testing.T) {
	weights := map[string]float64{"1": 1.0, "2": 0.5, "3": 0.5}
	out := ApplyBurn(weights, DefaultBurnConfig())

	require.Len(t, out, 4)
	assert.Equal(t, models.Weight{ParticipantID: "0", Weight: 0.90}, out[0])

	total := 0.0
	for _, w := range out {
		total += w.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-12)

	// Relative proportions among the rest survive the rescale.
	byID := weightsByID(out)
	assert.InDelta(t, byID["2"], byID["3"], 1e-12)
	assert.InDelta(t, byID["1"], 2*byID["2"], 1e-12)
}

func TestApplyBurnDiscardsReservedEarnedWeight(t *testing.T) {
	weights := map[string]float64{"0": 1.0, "1": 0.5}
	out := ApplyBurn(weights, DefaultBurnConfig())

	require.Len(t, out, 2)
	byID := weightsByID(out)
	assert.Equal(t, 0.90, byID["0"])
	assert.InDelta(t, 0.10, byID["1"], 1e-12)
}

func TestApplyBurnZeroTotalKeepsReservedFraction(t *testing.T) {
	// The reserved participant's earned weight is discarded, leaving a
	// zero total; the reserved slot still holds exactly the fraction.
	out := ApplyBurn(map[string]float64{"0": 1.0}, DefaultBurnConfig())
	require.Len(t, out, 1)
	assert.Equal(t, models.Weight{ParticipantID: "0", Weight: 0.90}, out[0])

	out = ApplyBurn(nil, DefaultBurnConfig())
	require.Len(t, out, 1)
	assert.Equal(t, models.Weight{ParticipantID: "0", Weight: 0.90}, out[0])

	out = ApplyBurn(map[string]float64{"0": 1.0, "1": 0.0, "2": 0.0}, DefaultBurnConfig())
	byID := weightsByID(out)
	require.Len(t, out, 3)
	assert.Equal(t, 0.90, byID["0"])
	assert.Equal(t, 0.0, byID["1"])
	assert.Equal(t, 0.0, byID["2"])
}

func TestApplyBurnDisabledPassesThrough(t *testing.T) {
	weights := map[string]float64{"2": 0.5, "1": 1.0}
	out := ApplyBurn(weights, BurnConfig{Enabled: false})

	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ParticipantID)
	assert.Equal(t, 1.0, out[0].Weight)
	assert.Equal(t, "2", out[1].ParticipantID)
	assert.Equal(t, 0.5, out[1].Weight)
}

func TestBoostThenBurnPipeline(t *testing.T) {
	scores := map[string]float64{"1": 0.8, "2": 0.3, "3": 0.3}
	out := ApplyBurn(Boost(scores, DefaultBeta), DefaultBurnConfig())

	byID := weightsByID(out)
	assert.Equal(t, 0.90, byID["0"])
	assert.Greater(t, byID["1"], byID["2"])
	assert.InDelta(t, byID["2"], byID["3"], 1e-12)

	total := 0.0
	for _, w := range out {
		total += w.Weight
	}
	assert.False(t, math.IsNaN(total))
	assert.InDelta(t, 1.0, total, 1e-12)
}

func weightsByID(weights []models.Weight) map[string]float64 {
	m := make(map[string]float64, len(weights))
	for _, w := range weights {
		m[w.ParticipantID] = w.Weight
	}
	return m
}
