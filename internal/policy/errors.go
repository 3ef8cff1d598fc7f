package policy

import (
	"fmt"

	"github.com/swarmnet/validator/internal/models"
)

// IntegrityKind discriminates load failures.
type IntegrityKind string

const (
	// KindMissingEntry: a required archive entry is absent. This is the
	// "structurally incomplete" class, distinct from malicious.
	KindMissingEntry IntegrityKind = "missing_entry"
	// KindMetadataInvalid: metadata present but outside the closed schema.
	KindMetadataInvalid IntegrityKind = "metadata_invalid"
	// KindUnsafePayload: the weights blob contains anything other than
	// numeric tensors.
	KindUnsafePayload IntegrityKind = "unsafe_payload"
	// KindKeyMismatch: strict parameter matching failed.
	KindKeyMismatch IntegrityKind = "key_mismatch"
	// KindDecoderUnsafe: the deserialization primitive failed its
	// startup capability probe; the loader fails closed.
	KindDecoderUnsafe IntegrityKind = "decoder_unsafe"
)

// IntegrityError is fatal for the artifact being loaded: it surfaces as
// a zero score and eviction, never as a partial load.
type IntegrityError struct {
	Kind   IntegrityKind
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error (%s): %s", e.Kind, e.Detail)
}

// ErrorType maps the failure onto the per-participant error taxonomy.
func (e *IntegrityError) ErrorType() models.ErrorType {
	switch e.Kind {
	case KindMissingEntry:
		return models.ErrMetadataMissing
	case KindMetadataInvalid:
		return models.ErrMetadataInvalid
	case KindKeyMismatch:
		return models.ErrWeightsKeyMismatch
	default:
		return models.ErrWeightsUnsafe
	}
}
