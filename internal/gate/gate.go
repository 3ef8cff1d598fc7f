// Package gate is the pre-execution admission control over submitted
// artifacts. Every check runs over the archive index only: no entry is
// ever extracted to make an admission decision, so decompression bombs
// and path traversal payloads never reach the filesystem.
package gate

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/swarmnet/validator/internal/blacklist"
	"github.com/swarmnet/validator/internal/models"
)

// RejectReason discriminates admission failures.
type RejectReason string

const (
	ReasonBlacklisted RejectReason = "blacklisted"
	ReasonMalformed   RejectReason = "malformed"
	ReasonTraversal   RejectReason = "traversal"
	ReasonOversized   RejectReason = "oversized"
)

// RejectError is returned by Admit for every rejected artifact.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("artifact rejected (%s): %s", e.Reason, e.Detail)
}

// ErrorType maps the rejection to the per-participant error taxonomy.
func (e *RejectError) ErrorType() models.ErrorType {
	switch e.Reason {
	case ReasonBlacklisted:
		return models.ErrArtifactBlacklisted
	case ReasonTraversal:
		return models.ErrArtifactTraversal
	case ReasonOversized:
		return models.ErrArtifactOversized
	default:
		return models.ErrArtifactMalformed
	}
}

// Fingerprint returns the SHA-256 hex digest identifying an artifact.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Gate validates raw artifacts before they are trusted enough to unpack
// or execute.
type Gate struct {
	// MaxUncompressed caps the cumulative uncompressed size across all
	// archive entries. An archive summing exactly to the cap is admitted.
	MaxUncompressed int64
	Blacklist       *blacklist.Store
}

// Admit accepts or rejects raw artifact bytes. The blacklist is consulted
// first so barred bytes are refused even when structurally valid, and a
// structural parse is never attempted on them.
func (g *Gate) Admit(raw []byte) error {
	if g.Blacklist != nil && g.Blacklist.Contains(Fingerprint(raw)) {
		return &RejectError{Reason: ReasonBlacklisted, Detail: "fingerprint is blacklisted"}
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return &RejectError{Reason: ReasonMalformed, Detail: err.Error()}
	}

	var total uint64
	for _, f := range zr.File {
		if err := checkEntryPath(f.Name); err != nil {
			return err
		}

		// Declared sizes are attacker-controlled: a forged zip64 size can
		// overflow a signed accumulator, so bound each entry before adding.
		size := f.UncompressedSize64
		if size > uint64(g.MaxUncompressed) {
			return &RejectError{
				Reason: ReasonOversized,
				Detail: fmt.Sprintf("entry %q declares %d uncompressed bytes, cap is %d", f.Name, size, g.MaxUncompressed),
			}
		}
		total += size
		if total > uint64(g.MaxUncompressed) {
			return &RejectError{
				Reason: ReasonOversized,
				Detail: fmt.Sprintf("uncompressed size %d exceeds cap %d", total, g.MaxUncompressed),
			}
		}
	}
	return nil
}

// checkEntryPath rejects absolute paths and parent-directory traversal
// segments in archive entry names.
func checkEntryPath(name string) error {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return &RejectError{Reason: ReasonTraversal, Detail: fmt.Sprintf("absolute entry path %q", name)}
	}
	// Windows drive-letter prefixes are absolute too.
	if len(name) >= 2 && name[1] == ':' {
		return &RejectError{Reason: ReasonTraversal, Detail: fmt.Sprintf("absolute entry path %q", name)}
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return &RejectError{Reason: ReasonTraversal, Detail: fmt.Sprintf("traversal segment in %q", name)}
		}
	}
	return nil
}
