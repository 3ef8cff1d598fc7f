package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DirClient serves artifacts from a local directory containing one
// <participantID>.zip per participant. Used for local rounds and tests;
// production deployments plug in the network transport instead.
type DirClient struct {
	Root string
}

func (d *DirClient) blobPath(participantID string) string {
	return filepath.Join(d.Root, participantID+".zip")
}

// FetchRef fingerprints the participant's file. A missing file means
// "no update this round".
func (d *DirClient) FetchRef(ctx context.Context, participantID string) (*Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.blobPath(participantID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact for %s: %w", participantID, err)
	}

	sum := sha256.Sum256(data)
	return &Ref{
		Fingerprint: hex.EncodeToString(sum[:]),
		SizeHint:    int64(len(data)),
	}, nil
}

// FetchBlob returns the participant's raw artifact bytes.
func (d *DirClient) FetchBlob(ctx context.Context, participantID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.blobPath(participantID))
	if err != nil {
		return nil, fmt.Errorf("reading artifact for %s: %w", participantID, err)
	}
	return data, nil
}

// Participants lists participant ids from the directory contents,
// sorted for deterministic round order.
func (d *DirClient) Participants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(d.Root, "*.zip"))
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		ids = append(ids, base[:len(base)-len(".zip")])
	}
	sort.Strings(ids)
	return ids, nil
}
