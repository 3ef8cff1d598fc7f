package models

// ErrorType identifies the category of a per-participant failure.
type ErrorType string

const (
	// Admission phase
	ErrArtifactMalformed   ErrorType = "artifact_malformed"
	ErrArtifactTraversal   ErrorType = "artifact_traversal"
	ErrArtifactOversized   ErrorType = "artifact_oversized"
	ErrArtifactBlacklisted ErrorType = "artifact_blacklisted"

	// Load phase
	ErrMetadataMissing    ErrorType = "metadata_missing"
	ErrMetadataInvalid    ErrorType = "metadata_invalid"
	ErrWeightsUnsafe      ErrorType = "weights_unsafe"
	ErrWeightsKeyMismatch ErrorType = "weights_key_mismatch"

	// Sandbox execution phase
	ErrSandboxUnavailable ErrorType = "sandbox_unavailable"
	ErrSandboxSetupFailed ErrorType = "sandbox_setup_failed"
	ErrEvaluationTimeout  ErrorType = "evaluation_timeout"
	ErrEvaluationCrashed  ErrorType = "evaluation_crashed"
	ErrResultMissing      ErrorType = "result_missing"
	ErrResultMalformed    ErrorType = "result_malformed"
	ErrResultScoreInvalid ErrorType = "result_score_invalid"
	ErrEvaluationReported ErrorType = "evaluation_reported_error"

	// Transport phase
	ErrFetchFailed ErrorType = "fetch_failed"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// ExecError records why a participant's evaluation produced a zero score.
type ExecError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}
