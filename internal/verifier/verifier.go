package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/swarmnet/validator/internal/blacklist"
	"github.com/swarmnet/validator/internal/gate"
	"github.com/swarmnet/validator/internal/models"
	"github.com/swarmnet/validator/internal/sandbox"
)

// Inspector runs the sandboxed load-and-inspect pass.
type Inspector interface {
	VerifyOnly(ctx context.Context, fingerprint, archivePath string) sandbox.VerifyOutcome
}

// Verifier decides, once per fingerprint, whether an artifact is
// legitimate, resubmittable, or adversarial, and applies the verdict's
// side effects.
type Verifier struct {
	Store     *Store
	Inspector Inspector
	Blacklist *blacklist.Store
	Cache     *gate.Cache
	// EvidenceDir receives a copy of every condemned artifact together
	// with its verdict, for offline review.
	EvidenceDir string
}

// NeedsVerification reports whether the fingerprint has never been
// inspected.
func (v *Verifier) NeedsVerification(fingerprint string) bool {
	_, ok := v.Store.Get(fingerprint)
	return !ok
}

// Verify inspects the cached artifact and persists the verdict. A
// transient failure (sandbox unavailable, timeout) records nothing so
// the fingerprint is retried next round.
func (v *Verifier) Verify(ctx context.Context, entry gate.Entry) (models.Verdict, error) {
	if existing, ok := v.Store.Get(entry.Fingerprint); ok {
		return existing, nil
	}

	outcome := v.Inspector.VerifyOnly(ctx, entry.Fingerprint, entry.Path)

	switch {
	case outcome.Fake != nil:
		verdict := models.Verdict{
			Fingerprint:   entry.Fingerprint,
			ParticipantID: entry.ParticipantID,
			Kind:          models.VerdictAdversarial,
			Reason:        outcome.Fake.Reason,
			Inspection:    outcome.Fake.Inspection,
			VerifiedAt:    time.Now(),
		}
		if err := v.condemn(entry, verdict); err != nil {
			return models.Verdict{}, err
		}
		return verdict, nil

	case outcome.Err != nil && outcome.Err.Type == models.ErrMetadataMissing:
		verdict := models.Verdict{
			Fingerprint:   entry.Fingerprint,
			ParticipantID: entry.ParticipantID,
			Kind:          models.VerdictMissingMetadata,
			Reason:        outcome.Err.Message,
			VerifiedAt:    time.Now(),
		}
		v.Cache.Evict(entry.ParticipantID)
		if err := v.Store.Put(verdict); err != nil {
			return models.Verdict{}, fmt.Errorf("storing verdict: %w", err)
		}
		slog.Info("artifact evicted without metadata",
			"participant", entry.ParticipantID,
			"fingerprint", short(entry.Fingerprint))
		return verdict, nil

	case outcome.Err != nil:
		return models.Verdict{}, fmt.Errorf("verification of %s did not complete: %s: %s",
			short(entry.Fingerprint), outcome.Err.Type, outcome.Err.Message)
	}

	verdict := models.Verdict{
		Fingerprint:   entry.Fingerprint,
		ParticipantID: entry.ParticipantID,
		Kind:          models.VerdictLegitimate,
		VerifiedAt:    time.Now(),
	}
	if err := v.Store.Put(verdict); err != nil {
		return models.Verdict{}, fmt.Errorf("storing verdict: %w", err)
	}
	return verdict, nil
}

// HandleAdversarial condemns an artifact flagged during a scored
// evaluation. The verdict overwrites any earlier legitimate verdict:
// evaluation-time evidence is stronger than the load-time pass.
func (v *Verifier) HandleAdversarial(entry gate.Entry, fake *models.FakeModelInfo) error {
	verdict := models.Verdict{
		Fingerprint:   entry.Fingerprint,
		ParticipantID: entry.ParticipantID,
		Kind:          models.VerdictAdversarial,
		Reason:        fake.Reason,
		Inspection:    fake.Inspection,
		VerifiedAt:    time.Now(),
	}
	return v.condemn(entry, verdict)
}

// condemn captures evidence, blacklists the fingerprint and evicts the
// cached artifact. Evidence is captured before eviction deletes the
// only local copy.
func (v *Verifier) condemn(entry gate.Entry, verdict models.Verdict) error {
	if err := v.archiveEvidence(entry, verdict); err != nil {
		slog.Warn("capturing evidence", "fingerprint", short(entry.Fingerprint), "error", err)
	}
	if err := v.Blacklist.Add(entry.Fingerprint); err != nil {
		return fmt.Errorf("blacklisting %s: %w", short(entry.Fingerprint), err)
	}
	v.Cache.Evict(entry.ParticipantID)
	if err := v.Store.Put(verdict); err != nil {
		return fmt.Errorf("storing verdict: %w", err)
	}

	slog.Warn("artifact condemned",
		"participant", entry.ParticipantID,
		"fingerprint", short(entry.Fingerprint),
		"reason", verdict.Reason)
	return nil
}

func (v *Verifier) archiveEvidence(entry gate.Entry, verdict models.Verdict) error {
	if v.EvidenceDir == "" {
		return nil
	}
	if err := os.MkdirAll(v.EvidenceDir, 0o755); err != nil {
		return fmt.Errorf("creating evidence directory: %w", err)
	}

	dst := filepath.Join(v.EvidenceDir, entry.Fingerprint+".zip")
	if err := copyFile(entry.Path, dst); err != nil {
		return fmt.Errorf("copying artifact: %w", err)
	}

	raw, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding verdict: %w", err)
	}
	if err := os.WriteFile(filepath.Join(v.EvidenceDir, entry.Fingerprint+".json"), raw, 0o644); err != nil {
		return fmt.Errorf("writing verdict: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
