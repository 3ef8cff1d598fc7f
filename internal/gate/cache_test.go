package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmnet/validator/internal/transport"
)

// fakeTransport serves in-memory blobs and counts fetches.
type fakeTransport struct {
	blobs      map[string][]byte
	refErr     error
	blobFetches int
}

func (f *fakeTransport) FetchRef(ctx context.Context, id string) (*transport.Ref, error) {
	if f.refErr != nil {
		return nil, f.refErr
	}
	raw, ok := f.blobs[id]
	if !ok {
		return nil, nil
	}
	return &transport.Ref{Fingerprint: Fingerprint(raw), SizeHint: int64(len(raw))}, nil
}

func (f *fakeTransport) FetchBlob(ctx context.Context, id string) ([]byte, error) {
	f.blobFetches++
	raw, ok := f.blobs[id]
	if !ok {
		return nil, errors.New("no blob")
	}
	return raw, nil
}

func newCache(t *testing.T, tr transport.Client) *Cache {
	t.Helper()
	return &Cache{
		Dir:          filepath.Join(t.TempDir(), "cache"),
		Gate:         &Gate{MaxUncompressed: 1 << 20, Blacklist: newStore(t)},
		Transport:    tr,
		MaxBlobBytes: 1 << 20,
	}
}

func TestRefreshStoresNewArtifact(t *testing.T) {
	raw := buildZip(t, map[string][]byte{"safe_policy_meta.json": []byte(`{}`)})
	tr := &fakeTransport{blobs: map[string][]byte{"7": raw}}
	c := newCache(t, tr)

	entry, err := c.Refresh(context.Background(), "7")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if entry == nil {
		t.Fatal("expected cache entry")
	}
	if entry.Fingerprint != Fingerprint(raw) {
		t.Error("wrong fingerprint")
	}
	if _, err := os.Stat(entry.Path); err != nil {
		t.Errorf("artifact not on disk: %v", err)
	}
}

func TestRefreshNoUpdate(t *testing.T) {
	tr := &fakeTransport{blobs: map[string][]byte{}}
	c := newCache(t, tr)

	entry, err := c.Refresh(context.Background(), "7")
	if err != nil {
		t.Fatalf("absence of a response is not an error, got %v", err)
	}
	if entry != nil {
		t.Error("expected no entry without an advertised ref")
	}
}

func TestRefreshReusesCurrentCache(t *testing.T) {
	raw := buildZip(t, map[string][]byte{"policy.pkl": []byte("weights")})
	tr := &fakeTransport{blobs: map[string][]byte{"3": raw}}
	c := newCache(t, tr)

	if _, err := c.Refresh(context.Background(), "3"); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	fetches := tr.blobFetches

	if _, err := c.Refresh(context.Background(), "3"); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if tr.blobFetches != fetches {
		t.Error("unchanged fingerprint must not trigger a refetch")
	}
}

func TestRefreshReplacesOnFingerprintChange(t *testing.T) {
	oldRaw := buildZip(t, map[string][]byte{"policy.pkl": []byte("v1")})
	tr := &fakeTransport{blobs: map[string][]byte{"3": oldRaw}}
	c := newCache(t, tr)

	if _, err := c.Refresh(context.Background(), "3"); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	newRaw := buildZip(t, map[string][]byte{"policy.pkl": []byte("v2")})
	tr.blobs["3"] = newRaw

	entry, err := c.Refresh(context.Background(), "3")
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if entry.Fingerprint != Fingerprint(newRaw) {
		t.Error("cache entry not replaced after fingerprint change")
	}

	stored, err := os.ReadFile(entry.Path)
	if err != nil {
		t.Fatal(err)
	}
	if Fingerprint(stored) != Fingerprint(newRaw) {
		t.Error("stale bytes left on disk")
	}
}

func TestRefreshDeletesInadmissibleArtifact(t *testing.T) {
	raw := buildZip(t, map[string][]byte{"../../etc/passwd": []byte("x")})
	tr := &fakeTransport{blobs: map[string][]byte{"9": raw}}
	c := newCache(t, tr)

	_, err := c.Refresh(context.Background(), "9")
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonTraversal {
		t.Fatalf("expected traversal rejection, got %v", err)
	}

	if _, err := os.Stat(c.entryPath("9")); !os.IsNotExist(err) {
		t.Error("rejected artifact must not persist in cache")
	}
}

func TestRefreshSkipsBlacklistedRef(t *testing.T) {
	raw := buildZip(t, map[string][]byte{"policy.pkl": []byte("w")})
	tr := &fakeTransport{blobs: map[string][]byte{"5": raw}}
	c := newCache(t, tr)
	if err := c.Gate.Blacklist.Add(Fingerprint(raw)); err != nil {
		t.Fatal(err)
	}

	_, err := c.Refresh(context.Background(), "5")
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonBlacklisted {
		t.Fatalf("expected blacklisted rejection, got %v", err)
	}
	if tr.blobFetches != 0 {
		t.Error("blacklisted fingerprint must be rejected before any download")
	}
}

func TestRefreshRejectsOversizedHint(t *testing.T) {
	raw := buildZip(t, map[string][]byte{"policy.pkl": []byte("w")})
	tr := &fakeTransport{blobs: map[string][]byte{"4": raw}}
	c := newCache(t, tr)
	c.MaxBlobBytes = 4

	_, err := c.Refresh(context.Background(), "4")
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonOversized {
		t.Fatalf("expected oversized rejection, got %v", err)
	}
	if tr.blobFetches != 0 {
		t.Error("size hint must bound the transfer before fetching")
	}
}
