// Package transport defines the collaborator that fetches artifacts from
// remote participants. The core only consumes this interface; the concrete
// network layer lives outside the trust boundary.
package transport

import "context"

// Ref advertises a participant's current artifact without transferring it.
type Ref struct {
	// Fingerprint is the SHA-256 hex digest of the full artifact bytes.
	Fingerprint string
	// SizeHint is the advertised blob size in bytes. It bounds the fetch
	// before any trust decision; the actual bytes are re-checked after.
	SizeHint int64
}

// Client fetches artifact references and bytes for participants.
//
// A nil Ref with a nil error means the participant has no update this
// round; that is not an error condition.
type Client interface {
	FetchRef(ctx context.Context, participantID string) (*Ref, error)
	FetchBlob(ctx context.Context, participantID string) ([]byte, error)
}
