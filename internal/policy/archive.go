package policy

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
)

// Load reconstructs a policy from an admitted artifact on disk. The
// archive must hold both the structural metadata document and the weight
// tensors; either absence is a structural-incompleteness failure, not an
// adversarial one.
func Load(localPath string) (*Policy, error) {
	if err := VerifyDecoderSafety(); err != nil {
		return nil, err
	}

	zr, err := zip.OpenReader(localPath)
	if err != nil {
		return nil, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("opening artifact: %v", err)}
	}
	defer zr.Close()

	metaRaw, err := readEntry(&zr.Reader, MetaFilename)
	if err != nil {
		return nil, err
	}
	weightsRaw, err := readEntry(&zr.Reader, WeightsFilename)
	if err != nil {
		return nil, err
	}

	meta, err := ParseMetadata(metaRaw)
	if err != nil {
		return nil, err
	}

	tensors, err := DecodeTensors(bytes.NewReader(weightsRaw))
	if err != nil {
		return nil, err
	}

	p := New(meta)
	if err := p.LoadState(tensors); err != nil {
		return nil, err
	}
	return p, nil
}

// HasMetadata reports whether an artifact carries the secure metadata
// entry, without extracting anything else. Used as a cheap pre-flight
// before spending sandbox time on the artifact.
func HasMetadata(localPath string) (bool, error) {
	zr, err := zip.OpenReader(localPath)
	if err != nil {
		return false, fmt.Errorf("opening artifact: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name == MetaFilename {
			return true, nil
		}
	}
	return false, nil
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("opening %s: %v", name, err)}
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("reading %s: %v", name, err)}
		}
		return data, nil
	}
	return nil, &IntegrityError{Kind: KindMissingEntry, Detail: fmt.Sprintf("artifact does not contain %s", name)}
}

// WriteArchive produces an artifact in the exact layout Load accepts.
func WriteArchive(path string, metaJSON []byte, tensors map[string]Tensor) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mw, err := zw.Create(MetaFilename)
	if err != nil {
		return fmt.Errorf("creating metadata entry: %w", err)
	}
	if _, err := mw.Write(metaJSON); err != nil {
		return fmt.Errorf("writing metadata entry: %w", err)
	}

	ww, err := zw.Create(WeightsFilename)
	if err != nil {
		return fmt.Errorf("creating weights entry: %w", err)
	}
	if err := EncodeTensors(ww, tensors); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
