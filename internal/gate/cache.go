package gate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/swarmnet/validator/internal/transport"
)

// Entry describes one admitted, cached artifact.
type Entry struct {
	ParticipantID string
	Fingerprint   string
	Path          string
}

// Cache owns admission control over the on-disk artifact store. One file
// per participant, replaced wholesale when the advertised fingerprint
// changes. A cache entry is only ever written by its own participant's
// fetch sequence within a round.
type Cache struct {
	Dir       string
	Gate      *Gate
	Transport transport.Client
	// MaxBlobBytes bounds the transferred blob before any trust decision.
	MaxBlobBytes int64
	Log          *slog.Logger
}

func (c *Cache) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

func (c *Cache) entryPath(participantID string) string {
	return filepath.Join(c.Dir, "UID_"+participantID+".zip")
}

// Refresh compares the participant's advertised fingerprint against the
// cached artifact, fetching and re-admitting on mismatch. It returns nil
// when the participant has nothing valid to evaluate this round. On any
// admission failure the invalid cached file is deleted so a stale artifact
// never silently persists.
func (c *Cache) Refresh(ctx context.Context, participantID string) (*Entry, error) {
	ref, err := c.Transport.FetchRef(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("fetching ref for %s: %w", participantID, err)
	}
	if ref == nil {
		// No update this round.
		return nil, nil
	}

	if c.Gate.Blacklist != nil && c.Gate.Blacklist.Contains(ref.Fingerprint) {
		c.log().Warn("skipping blacklisted artifact",
			"participant", participantID,
			"fingerprint", short(ref.Fingerprint))
		return nil, &RejectError{Reason: ReasonBlacklisted, Detail: "advertised fingerprint is blacklisted"}
	}

	if ref.SizeHint > c.MaxBlobBytes {
		return nil, &RejectError{
			Reason: ReasonOversized,
			Detail: fmt.Sprintf("advertised size %d exceeds limit %d", ref.SizeHint, c.MaxBlobBytes),
		}
	}

	path := c.entryPath(participantID)

	// Cached copy still current? Re-admit every round: limits may have
	// tightened and the blacklist may have grown since it was stored.
	if cached, err := os.ReadFile(path); err == nil {
		if Fingerprint(cached) == ref.Fingerprint {
			if err := c.Gate.Admit(cached); err == nil {
				return &Entry{ParticipantID: participantID, Fingerprint: ref.Fingerprint, Path: path}, nil
			}
			c.log().Warn("cached artifact no longer admissible, refetching",
				"participant", participantID)
		}
		os.Remove(path)
	}

	entry, err := c.fetchAndAdmit(ctx, participantID, ref, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return entry, nil
}

func (c *Cache) fetchAndAdmit(ctx context.Context, participantID string, ref *transport.Ref, path string) (*Entry, error) {
	raw, err := c.Transport.FetchBlob(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("fetching blob for %s: %w", participantID, err)
	}

	if int64(len(raw)) > c.MaxBlobBytes {
		return nil, &RejectError{
			Reason: ReasonOversized,
			Detail: fmt.Sprintf("blob size %d exceeds limit %d", len(raw), c.MaxBlobBytes),
		}
	}

	fp := Fingerprint(raw)
	if fp != ref.Fingerprint {
		return nil, &RejectError{
			Reason: ReasonMalformed,
			Detail: "blob fingerprint does not match advertised reference",
		}
	}

	if err := c.Gate.Admit(raw); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	// Atomic replacement so a partially written artifact is never visible.
	tmp := path + ".part"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("storing artifact: %w", err)
	}

	c.log().Info("stored artifact",
		"participant", participantID,
		"fingerprint", short(fp),
		"bytes", len(raw))

	return &Entry{ParticipantID: participantID, Fingerprint: fp, Path: path}, nil
}

// Evict removes a participant's cached artifact.
func (c *Cache) Evict(participantID string) {
	os.Remove(c.entryPath(participantID))
}

func short(fingerprint string) string {
	if len(fingerprint) > 16 {
		return fingerprint[:16]
	}
	return fingerprint
}
