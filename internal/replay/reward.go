package replay

// Reward weights constants. A successful landing earns the base reward
// plus bonuses for finishing early and for spending little energy; a
// failed attempt earns nothing. The result is always within [0, 1].
const (
	rewardBase   = 0.40
	rewardTime   = 0.45
	rewardEnergy = 0.15

	// energyRefJoules normalizes the energy bonus. Flights at or above
	// this spend get no energy bonus.
	energyRefJoules = 2000.0

	// minScore is the floor credited to an error-free evaluation whose
	// flight earned nothing, distinguishing it from failed submissions.
	minScore = 0.01
)

// Reward maps an outcome to a score in [0, 1]. Time and energy bonuses
// only accrue on success: a fast crash is not a good flight.
func Reward(success bool, simTimeSec, energy, horizonSec float64) float64 {
	if !success {
		return 0
	}
	score := rewardBase

	if horizonSec > 0 {
		frac := simTimeSec / horizonSec
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		score += rewardTime * (1 - frac)
	}

	frac := energy / energyRefJoules
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	score += rewardEnergy * (1 - frac)

	if score > 1 {
		score = 1
	}
	return score
}

// FinalScore applies the terminal scoring policy in one place: any
// evaluation error zeroes the score, and an error-free zero is lifted
// to a small floor so aggregation can tell it apart from failures.
func FinalScore(score float64, hadError bool) float64 {
	if hadError {
		return 0
	}
	if score <= 0 {
		return minScore
	}
	if score > 1 {
		return 1
	}
	return score
}
