package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/assay/iox"
	"github.com/pithecene-io/assay/types"
)

// manifestFilename is the manifest file under the store root.
const manifestFilename = "manifest.json"

// loadManifest reads and validates the manifest from disk. A missing
// manifest file yields an empty manifest: a fresh store is valid.
func (s *Store) loadManifest() (*types.ArtifactManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.root, manifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewManifest(), nil
		}
		return nil, newStoreError(ErrCorruptManifest, "load", "", err)
	}

	var m types.ArtifactManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, newStoreError(ErrCorruptManifest, "load", "", err)
	}
	if m.Models == nil {
		m.Models = make(map[string]types.ManifestEntry)
	}
	if err := m.Validate(); err != nil {
		return nil, newStoreError(ErrCorruptManifest, "load", "", err)
	}
	return &m, nil
}

// writeManifest durably replaces the manifest. The write goes to a
// temp file which is fsynced and then renamed over the manifest path;
// the rename is the atomic swap a concurrent reader observes.
func (s *Store) writeManifest(m *types.ArtifactManifest) error {
	m.RecomputeMetadata()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode manifest: %w", err)
	}

	target := filepath.Join(s.root, manifestFilename)
	tmp := target + ".tmp"
	if err := writeFileSync(tmp, data); err != nil {
		return fmt.Errorf("store: write manifest: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: swap manifest: %w", err)
	}
	return syncDir(s.root)
}

// writeFileSync writes data and fsyncs before close.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		iox.DiscardClose(f)
		return err
	}
	if err := f.Sync(); err != nil {
		iox.DiscardClose(f)
		return err
	}
	return f.Close()
}

// syncDir fsyncs a directory so entry renames are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(d)
	return d.Sync()
}
