package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/assay/iox"
	"github.com/pithecene-io/assay/types"
)

// recordFilename is the msgpack sidecar inside each backup directory.
const recordFilename = "record.bin"

// BackupRecord is a superseded artifact retained for rollback: the
// prior bytes plus the descriptor that described them. Created on
// every commit, deleted only by explicit prune or retention eviction.
type BackupRecord struct {
	// Descriptor describes the backed-up artifact.
	Descriptor types.ArtifactDescriptor `msgpack:"descriptor"`
	// ReplacedAt is when the artifact was superseded.
	ReplacedAt time.Time `msgpack:"replaced_at"`

	// id is the backup directory name, for pruning. Not serialized.
	id string
}

// ID returns the backup's identifier (its directory name), of the form
// <unix-nanos>-<version>. Lexicographic order is creation order.
func (r *BackupRecord) ID() string { return r.id }

// backupDir is the per-name backup area.
func (s *Store) backupDir(name string) string {
	return filepath.Join(s.root, "backups", name)
}

// createBackup copies the active artifact for entry into a new backup
// directory and writes the record sidecar. Both the copied bytes and
// the sidecar are fsynced before the backup is considered durable.
func (s *Store) createBackup(name string, entry types.ManifestEntry) (*BackupRecord, error) {
	desc := entry.Descriptor(name)
	record := &BackupRecord{
		Descriptor: *desc,
		ReplacedAt: time.Now().UTC(),
		id:         fmt.Sprintf("%020d-%s", time.Now().UnixNano(), desc.Version),
	}

	dir := filepath.Join(s.backupDir(name), record.id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: backup dir: %w", err)
	}

	src := filepath.Join(s.activeDir(), entry.Filename)
	dst := filepath.Join(dir, entry.Filename)
	if err := copyFileSync(src, dst); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("store: backup copy: %w", err)
	}

	raw, err := msgpack.Marshal(record)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("store: encode backup record: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, recordFilename), raw); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("store: write backup record: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return nil, fmt.Errorf("store: sync backup dir: %w", err)
	}
	return record, nil
}

// listBackups returns the backup records for name, newest first.
// Directories without a readable record sidecar are skipped.
func (s *Store) listBackups(name string) ([]*BackupRecord, error) {
	entries, err := os.ReadDir(s.backupDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list backups: %w", err)
	}

	var records []*BackupRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, rerr := os.ReadFile(filepath.Join(s.backupDir(name), e.Name(), recordFilename))
		if rerr != nil {
			continue
		}
		var record BackupRecord
		if uerr := msgpack.Unmarshal(raw, &record); uerr != nil {
			continue
		}
		record.id = e.Name()
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].id > records[j].id
	})
	return records, nil
}

// evictBackups removes the oldest backups beyond keep. keep < 0 keeps
// everything.
func (s *Store) evictBackups(name string, keep int) (removed int, err error) {
	if keep < 0 {
		return 0, nil
	}
	records, err := s.listBackups(name)
	if err != nil {
		return 0, err
	}
	for _, record := range records[min(keep, len(records)):] {
		if rerr := os.RemoveAll(filepath.Join(s.backupDir(name), record.id)); rerr != nil {
			return removed, fmt.Errorf("store: evict backup %s: %w", record.id, rerr)
		}
		removed++
	}
	return removed, nil
}

// copyFileSync copies src to dst and fsyncs dst before close.
func copyFileSync(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(in)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	buf := make([]byte, 128*1024)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		iox.DiscardClose(out)
		return err
	}
	if err := out.Sync(); err != nil {
		iox.DiscardClose(out)
		return err
	}
	return out.Close()
}
