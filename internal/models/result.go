package models

import "time"

// FakeModelInfo carries the raw inspection evidence produced when an
// evaluation-time check flags an artifact as adversarial.
type FakeModelInfo struct {
	Reason     string         `json:"reason"`
	Inspection map[string]any `json:"inspection_results,omitempty"`
}

// EvaluationResult is the immutable per-participant outcome of one round.
// Produced exactly once per participant per round; every failure mode
// degrades to Score == 0 rather than an error.
type EvaluationResult struct {
	ParticipantID string         `json:"participant_id"`
	Success       bool           `json:"success"`
	SimTimeSec    float64        `json:"sim_time_sec"`
	Energy        float64        `json:"energy"`
	Score         float64        `json:"score"`
	Error         *ExecError     `json:"error,omitempty"`
	Fake          *FakeModelInfo `json:"fake,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at"`
}

// ZeroResult returns the degraded result used on every failure path.
func ZeroResult(participantID string, errType ErrorType, msg string) EvaluationResult {
	now := time.Now()
	return EvaluationResult{
		ParticipantID: participantID,
		Error:         &ExecError{Type: errType, Message: msg},
		StartedAt:     now,
		EndedAt:       now,
	}
}

// Weight is one entry of the published weight vector.
type Weight struct {
	ParticipantID string  `json:"participant_id"`
	Weight        float64 `json:"weight"`
}

// RoundResult aggregates one full evaluation round.
type RoundResult struct {
	Seed        int64              `json:"seed"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     time.Time          `json:"ended_at"`
	Evaluated   int                `json:"evaluated"`
	Failed      int                `json:"failed"`
	MeanScore   float64            `json:"mean_score"`
	Results     []EvaluationResult `json:"results"`
	Weights     []Weight           `json:"weights"`
	BurnApplied bool               `json:"burn_applied"`
}
