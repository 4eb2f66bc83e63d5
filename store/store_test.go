package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/assay/integrity"
	"github.com/pithecene-io/assay/iox"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/types"
)

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "models"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func descriptorFor(t *testing.T, name, version string, payload []byte) *types.ArtifactDescriptor {
	t.Helper()
	return &types.ArtifactDescriptor{
		Name:    name,
		Version: version,
		Variant: "-cpu",
		Contract: types.ShapeContract{
			Input:  types.Shape{1, 608, 608, 3},
			Output: types.Shape{1, 152, 152, 5},
		},
		SizeBytes: int64(len(payload)),
		Checksum:  integrity.DigestBytes(payload),
	}
}

func stageAndCommit(t *testing.T, s *Store, name, version string, payload []byte) {
	t.Helper()
	staged, err := s.Stage(descriptorFor(t, name, version, payload), bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Stage %s@%s: %v", name, version, err)
	}
	if err := s.Commit(staged); err != nil {
		t.Fatalf("Commit %s@%s: %v", name, version, err)
	}
}

func readAll(t *testing.T, s *Store, name string) (*types.ArtifactDescriptor, []byte) {
	t.Helper()
	desc, rc, err := s.Read(name)
	if err != nil {
		t.Fatalf("Read %s: %v", name, err)
	}
	defer iox.DiscardClose(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read bytes: %v", err)
	}
	return desc, data
}

func TestCommitThenRead(t *testing.T) {
	s := testStore(t)
	payload := []byte("model bytes v1")
	stageAndCommit(t, s, "table_detection", "1.0.0", payload)

	desc, data := readAll(t, s, "table_detection")
	if !bytes.Equal(data, payload) {
		t.Error("Read returned different bytes than committed")
	}
	if desc.Version != "1.0.0" {
		t.Errorf("Version = %q", desc.Version)
	}

	// The manifest checksum must equal the digest of the bytes Read
	// returns.
	m, err := s.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	entry := m.Models["table_detection"]
	if entry.Checksum != integrity.DigestBytes(data) {
		t.Errorf("manifest checksum %s does not match read bytes", entry.Checksum)
	}
}

func TestReadUnknownModel(t *testing.T) {
	s := testStore(t)
	_, _, err := s.Read("absent")
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Read error = %v, want ErrUnknownModel", err)
	}
}

func TestCommitCreatesBackup(t *testing.T) {
	s := testStore(t)
	stageAndCommit(t, s, "x", "1.0.0", []byte("v1 bytes"))
	stageAndCommit(t, s, "x", "2.0.0", []byte("v2 bytes"))

	records, err := s.Backups("x")
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("backups = %d, want 1", len(records))
	}
	if records[0].Descriptor.Version != "1.0.0" {
		t.Errorf("backup version = %q, want 1.0.0", records[0].Descriptor.Version)
	}

	m, _ := s.Manifest()
	if got := m.Models["x"].Version; got != "2.0.0" {
		t.Errorf("active version = %q, want 2.0.0", got)
	}
	if backups := m.Models["x"].Backups; len(backups) != 1 || backups[0] != records[0].ID() {
		t.Errorf("manifest backups = %v, want [%s]", backups, records[0].ID())
	}
}

func TestRollbackRestoresPriorVersion(t *testing.T) {
	s := testStore(t)
	v1 := []byte("v1 bytes")
	stageAndCommit(t, s, "x", "1.0.0", v1)
	stageAndCommit(t, s, "x", "2.0.0", []byte("v2 bytes"))

	if err := s.Rollback("x"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	desc, data := readAll(t, s, "x")
	if desc.Version != "1.0.0" {
		t.Errorf("restored version = %q, want 1.0.0", desc.Version)
	}
	if !bytes.Equal(data, v1) {
		t.Error("restored bytes differ from v1")
	}
}

func TestRollbackNoBackup(t *testing.T) {
	s := testStore(t)
	stageAndCommit(t, s, "x", "1.0.0", []byte("only version"))

	err := s.Rollback("x")
	if !errors.Is(err, ErrNoBackupAvailable) {
		t.Errorf("Rollback error = %v, want ErrNoBackupAvailable", err)
	}

	if err := s.Rollback("never-committed"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Rollback unknown = %v, want ErrUnknownModel", err)
	}
}

func TestRollbackWalksHistory(t *testing.T) {
	s := testStore(t)
	stageAndCommit(t, s, "x", "1.0.0", []byte("v1"))
	stageAndCommit(t, s, "x", "2.0.0", []byte("v2"))
	stageAndCommit(t, s, "x", "3.0.0", []byte("v3"))

	for _, want := range []string{"2.0.0", "1.0.0"} {
		if err := s.Rollback("x"); err != nil {
			t.Fatalf("Rollback to %s: %v", want, err)
		}
		desc, _ := readAll(t, s, "x")
		if desc.Version != want {
			t.Errorf("active after rollback = %q, want %q", desc.Version, want)
		}
	}

	if err := s.Rollback("x"); !errors.Is(err, ErrNoBackupAvailable) {
		t.Errorf("final Rollback = %v, want ErrNoBackupAvailable", err)
	}
}

func TestRetentionEvictsOldest(t *testing.T) {
	s := testStore(t, WithMaxBackups(2))
	for i := 1; i <= 5; i++ {
		stageAndCommit(t, s, "x", fmt.Sprintf("%d.0.0", i), []byte(fmt.Sprintf("v%d", i)))
	}

	records, err := s.Backups("x")
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("backups = %d, want 2", len(records))
	}
	if records[0].Descriptor.Version != "4.0.0" || records[1].Descriptor.Version != "3.0.0" {
		t.Errorf("retained = %s, %s; want 4.0.0, 3.0.0",
			records[0].Descriptor.Version, records[1].Descriptor.Version)
	}
}

func TestEvictionObserver(t *testing.T) {
	mc := metrics.NewCollector("", "")
	s := testStore(t, WithMaxBackups(2), WithEvictionObserver(mc))
	for i := 1; i <= 5; i++ {
		stageAndCommit(t, s, "x", fmt.Sprintf("%d.0.0", i), []byte(fmt.Sprintf("v%d", i)))
	}

	// Backups exist after commits 2..5; retention 2 evicts on the
	// fourth and fifth commit.
	if got := mc.Snapshot().BackupsEvicted; got != 2 {
		t.Errorf("BackupsEvicted after commits = %d, want 2", got)
	}

	if _, err := s.Prune("x", 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if got := mc.Snapshot().BackupsEvicted; got != 4 {
		t.Errorf("BackupsEvicted after prune = %d, want 4", got)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t, WithMaxBackups(10))
	for i := 1; i <= 4; i++ {
		stageAndCommit(t, s, "x", fmt.Sprintf("%d.0.0", i), []byte(fmt.Sprintf("v%d", i)))
	}

	removed, err := s.Prune("x", 1)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	records, _ := s.Backups("x")
	if len(records) != 1 || records[0].Descriptor.Version != "3.0.0" {
		t.Errorf("kept wrong backup: %+v", records)
	}

	if _, err := s.Prune("x", -1); err == nil {
		t.Error("Prune with negative keep should fail")
	}
}

func TestDiscardedStagedCannotCommit(t *testing.T) {
	s := testStore(t)
	payload := []byte("candidate")
	staged, err := s.Stage(descriptorFor(t, "x", "1.0.0", payload), bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := staged.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	if err := s.Commit(staged); !errors.Is(err, ErrStaleStaged) {
		t.Errorf("Commit after discard = %v, want ErrStaleStaged", err)
	}
	if _, _, err := s.Read("x"); !errors.Is(err, ErrUnknownModel) {
		t.Error("discarded artifact must not become active")
	}
}

func TestStagedNotVisibleBeforeCommit(t *testing.T) {
	s := testStore(t)
	payload := []byte("candidate")
	if _, err := s.Stage(descriptorFor(t, "x", "1.0.0", payload), bytes.NewReader(payload)); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if _, _, err := s.Read("x"); !errors.Is(err, ErrUnknownModel) {
		t.Error("staged artifact visible before commit")
	}
	m, _ := s.Manifest()
	if len(m.Models) != 0 {
		t.Error("manifest mentions staged-only artifact")
	}
}

func TestCommitDistinctNamesIndependent(t *testing.T) {
	s := testStore(t)
	stageAndCommit(t, s, "ocr", "1.0.0", []byte("ocr bytes"))
	stageAndCommit(t, s, "classifier", "1.0.0", []byte("classifier bytes"))

	_, ocr := readAll(t, s, "ocr")
	_, cls := readAll(t, s, "classifier")
	if bytes.Equal(ocr, cls) {
		t.Error("distinct names returned identical bytes")
	}

	m, _ := s.Manifest()
	if len(m.Models) != 2 {
		t.Errorf("manifest models = %d, want 2", len(m.Models))
	}
}

func TestReadConsistentDuringCommits(t *testing.T) {
	s := testStore(t)
	v1 := bytes.Repeat([]byte("alpha weights "), 4)
	v2 := bytes.Repeat([]byte("beta weights x"), 4)
	stageAndCommit(t, s, "m", "1.0.0", v1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			for _, c := range []struct {
				version string
				payload []byte
			}{{"2.0.0", v2}, {"1.0.0", v1}} {
				staged, err := s.Stage(descriptorFor(t, "m", c.version, c.payload), bytes.NewReader(c.payload))
				if err != nil {
					t.Errorf("Stage: %v", err)
					return
				}
				if err := s.Commit(staged); err != nil {
					t.Errorf("Commit: %v", err)
					return
				}
			}
		}
	}()

	// Every read must observe bytes whose digest matches the manifest
	// entry it resolved through, no matter how the reads interleave
	// with the commits.
	for alive := true; alive; {
		select {
		case <-done:
			alive = false
		default:
		}
		desc, rc, err := s.Read("m")
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		data, rerr := io.ReadAll(rc)
		iox.DiscardClose(rc)
		if rerr != nil {
			t.Fatalf("read bytes: %v", rerr)
		}
		if got := integrity.DigestBytes(data); got != desc.Checksum {
			t.Fatalf("version %s served %d bytes with digest %s, manifest checksum %s",
				desc.Version, len(data), got, desc.Checksum)
		}
	}
}

func TestManifestMetadataAggregates(t *testing.T) {
	s := testStore(t)
	stageAndCommit(t, s, "x", "1.0.0", make([]byte, 1024*1024))

	m, _ := s.Manifest()
	if m.Metadata.TotalSizeMB != 1.0 {
		t.Errorf("TotalSizeMB = %v, want 1.0", m.Metadata.TotalSizeMB)
	}
}

func TestAdoptStaged(t *testing.T) {
	s := testStore(t)
	payload := []byte("fetched directly into staging")
	path := s.StagingPath("x")
	if err := os.WriteFile(path, payload, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	staged, err := s.AdoptStaged(descriptorFor(t, "x", "1.0.0", payload), path)
	if err != nil {
		t.Fatalf("AdoptStaged: %v", err)
	}
	if err := s.Commit(staged); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, data := readAll(t, s, "x")
	if !bytes.Equal(data, payload) {
		t.Error("adopted bytes differ after commit")
	}

	if _, err := s.AdoptStaged(descriptorFor(t, "y", "1.0.0", nil), filepath.Join(s.Root(), "nope")); !errors.Is(err, ErrStaleStaged) {
		t.Errorf("AdoptStaged missing file = %v, want ErrStaleStaged", err)
	}
}

func TestRemoveBacksUpAndDeletes(t *testing.T) {
	s := testStore(t)
	payload := []byte("broken edgetpu model")
	stageAndCommit(t, s, "x", "1.0.0", payload)

	if err := s.Remove("x"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, _, err := s.Read("x"); !errors.Is(err, ErrUnknownModel) {
		t.Error("removed model still readable")
	}

	records, _ := s.Backups("x")
	if len(records) != 1 {
		t.Fatalf("backups after remove = %d, want 1", len(records))
	}

	// Rollback restores the removed model.
	if err := s.Rollback("x"); err != nil {
		t.Fatalf("Rollback after remove: %v", err)
	}
	_, data := readAll(t, s, "x")
	if !bytes.Equal(data, payload) {
		t.Error("restored bytes differ after remove+rollback")
	}

	if err := s.Remove("never"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Remove unknown = %v, want ErrUnknownModel", err)
	}
}

func TestCorruptManifestSurfaces(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(filepath.Join(s.Root(), "manifest.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := s.Manifest()
	if !errors.Is(err, ErrCorruptManifest) {
		t.Errorf("Manifest = %v, want ErrCorruptManifest", err)
	}
}
