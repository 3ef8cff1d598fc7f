package models

import "time"

// VerdictKind classifies an artifact after its one-time inspection pass.
type VerdictKind string

const (
	// VerdictLegitimate leaves the artifact cached for scoring.
	VerdictLegitimate VerdictKind = "legitimate"
	// VerdictMissingMetadata evicts the cached artifact without
	// blacklisting; resubmission is permitted.
	VerdictMissingMetadata VerdictKind = "missing_metadata"
	// VerdictAdversarial blacklists the fingerprint and evicts the
	// artifact. Irrecoverable for the same bytes.
	VerdictAdversarial VerdictKind = "adversarial"
)

// Verdict is the persisted outcome of verifying one fingerprint.
type Verdict struct {
	Fingerprint   string         `json:"fingerprint"`
	ParticipantID string         `json:"participant_id"`
	Kind          VerdictKind    `json:"kind"`
	Reason        string         `json:"reason,omitempty"`
	Inspection    map[string]any `json:"inspection_results,omitempty"`
	VerifiedAt    time.Time      `json:"verified_at"`
}
