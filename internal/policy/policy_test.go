package policy

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testMeta = Metadata{
	ActivationFn: "tanh",
	NetArch:      []int{8, 4},
	ObsDim:       6,
	ActDim:       4,
	UseSDE:       true,
}

func metaJSON(t *testing.T, meta Metadata) []byte {
	t.Helper()
	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// fullWeights generates a complete, deterministic weight set for meta.
func fullWeights(meta Metadata) map[string]Tensor {
	skeleton := New(meta)
	weights := make(map[string]Tensor)
	seed := 0.0
	for _, name := range skeleton.ParamNames() {
		want, _ := skeleton.Param(name)
		data := make([]float64, want.Numel())
		for i := range data {
			seed += 0.137
			data[i] = seed
		}
		weights[name] = Tensor{Shape: append([]int(nil), want.Shape...), Data: data}
	}
	return weights
}

func kindOf(t *testing.T, err error) IntegrityKind {
	t.Helper()
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	return ie.Kind
}

func TestVerifyDecoderSafety(t *testing.T) {
	if err := VerifyDecoderSafety(); err != nil {
		t.Fatalf("decoder must pass the capability probe: %v", err)
	}
}

func TestRoundTripBitwise(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.zip")
	weights := fullWeights(testMeta)

	if err := WriteArchive(path, metaJSON(t, testMeta), weights); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Meta.ActivationFn != "tanh" || p.Meta.ActDim != 4 || !p.Meta.UseSDE {
		t.Errorf("metadata not reconstructed: %+v", p.Meta)
	}

	for name, want := range weights {
		got, ok := p.Param(name)
		if !ok {
			t.Fatalf("parameter %s missing after load", name)
		}
		for i := range want.Data {
			if got.Data[i] != want.Data[i] {
				t.Fatalf("parameter %s element %d differs: %v != %v", name, i, got.Data[i], want.Data[i])
			}
		}
	}
}

func TestStrictKeyRenamedParameter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.zip")
	weights := fullWeights(testMeta)

	renamed := weights["action_net.bias"]
	delete(weights, "action_net.bias")
	weights["action_net.bias_renamed"] = renamed

	if err := WriteArchive(path, metaJSON(t, testMeta), weights); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if kindOf(t, err) != KindKeyMismatch {
		t.Errorf("expected key mismatch, got %v", err)
	}
	if p != nil {
		t.Error("a failed load must never return a partially-initialized policy")
	}
}

func TestStrictKeyExtraParameter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.zip")
	weights := fullWeights(testMeta)
	weights["smuggled"] = Tensor{Shape: []int{1}, Data: []float64{1}}

	if err := WriteArchive(path, metaJSON(t, testMeta), weights); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); kindOf(t, err) != KindKeyMismatch {
		t.Errorf("expected key mismatch, got %v", err)
	}
}

func TestStrictShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.zip")
	weights := fullWeights(testMeta)
	weights["action_net.bias"] = Tensor{Shape: []int{5}, Data: make([]float64, 5)}

	if err := WriteArchive(path, metaJSON(t, testMeta), weights); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); kindOf(t, err) != KindKeyMismatch {
		t.Errorf("expected key mismatch for wrong shape, got %v", err)
	}
}

func writeRawArchive(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "artifact.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingMetadata(t *testing.T) {
	var weights bytes.Buffer
	if err := EncodeTensors(&weights, fullWeights(testMeta)); err != nil {
		t.Fatal(err)
	}
	path := writeRawArchive(t, map[string][]byte{WeightsFilename: weights.Bytes()})

	if _, err := Load(path); kindOf(t, err) != KindMissingEntry {
		t.Errorf("expected missing entry, got %v", err)
	}
}

func TestLoadMissingWeights(t *testing.T) {
	path := writeRawArchive(t, map[string][]byte{MetaFilename: metaJSON(t, testMeta)})
	if _, err := Load(path); kindOf(t, err) != KindMissingEntry {
		t.Errorf("expected missing entry, got %v", err)
	}
}

func TestLoadRejectsCodeReferencePayload(t *testing.T) {
	path := writeRawArchive(t, map[string][]byte{
		MetaFilename:    metaJSON(t, testMeta),
		WeightsFilename: probePayload,
	})
	if _, err := Load(path); kindOf(t, err) != KindUnsafePayload {
		t.Errorf("expected unsafe payload, got %v", err)
	}
}

func TestHasMetadata(t *testing.T) {
	with := writeRawArchive(t, map[string][]byte{MetaFilename: []byte(`{}`)})
	ok, err := HasMetadata(with)
	if err != nil || !ok {
		t.Errorf("expected metadata present, got %v %v", ok, err)
	}

	without := writeRawArchive(t, map[string][]byte{"other.bin": []byte("x")})
	ok, err = HasMetadata(without)
	if err != nil || ok {
		t.Errorf("expected metadata absent, got %v %v", ok, err)
	}
}
