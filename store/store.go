package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pithecene-io/assay/iox"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/types"
)

// DefaultMaxBackups is the retention bound per logical name. Commits
// beyond this evict the oldest backup.
const DefaultMaxBackups = 3

// Store owns the durable artifact areas under a root directory:
//
//	manifest.json    active manifest (swapped whole, never edited)
//	active/          artifact bytes consumers read
//	staging/         candidates under validation, never read by consumers
//	backups/<name>/  superseded artifacts retained for rollback
//
// The store is the only component that mutates durable shared state.
// All mutating operations serialize on an internal mutex; readers
// resolve through the manifest file, whose swap is atomic.
type Store struct {
	root       string
	maxBackups int
	logger     *log.Logger
	evictions  EvictionObserver

	mu sync.Mutex
}

// EvictionObserver is notified when retention or prune removes backup
// records.
type EvictionObserver interface {
	BackupsEvicted(n int64)
}

// Option configures a Store.
type Option func(*Store)

// WithMaxBackups overrides the per-name backup retention bound.
func WithMaxBackups(n int) Option {
	return func(s *Store) { s.maxBackups = n }
}

// WithLogger attaches a logger.
func WithLogger(lg *log.Logger) Option {
	return func(s *Store) { s.logger = lg }
}

// WithEvictionObserver attaches an observer for backup evictions.
func WithEvictionObserver(obs EvictionObserver) Option {
	return func(s *Store) { s.evictions = obs }
}

// Open creates a Store rooted at root, creating the directory layout
// if needed.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:       root,
		maxBackups: DefaultMaxBackups,
		logger:     log.NewLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{root, s.activeDir(), s.stagingDir(), filepath.Join(root, "backups")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) activeDir() string  { return filepath.Join(s.root, "active") }
func (s *Store) stagingDir() string { return filepath.Join(s.root, "staging") }

// StagingPath returns a fresh path under the staging area for external
// producers (fetcher, converter) to write into.
func (s *Store) StagingPath(name string) string {
	return filepath.Join(s.stagingDir(), fmt.Sprintf("%s-%d.part", name, time.Now().UnixNano()))
}

// StagedArtifact is a candidate artifact between staging and commit.
// Never visible to consumers until committed.
type StagedArtifact struct {
	// Descriptor describes the candidate.
	Descriptor *types.ArtifactDescriptor
	// Path is the staged file location.
	Path string
}

// Discard removes the staged bytes. Safe to call after a failed or
// abandoned pipeline run; committing a discarded artifact fails.
func (a *StagedArtifact) Discard() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: discard staged: %w", err)
	}
	return nil
}

// Stage copies r into the staging area under desc's identity.
func (s *Store) Stage(desc *types.ArtifactDescriptor, r io.Reader) (*StagedArtifact, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	path := s.StagingPath(desc.Name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: stage %s: %w", desc.Name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		iox.DiscardClose(f)
		_ = os.Remove(path)
		return nil, fmt.Errorf("store: stage %s: %w", desc.Name, err)
	}
	if err := f.Sync(); err != nil {
		iox.DiscardClose(f)
		_ = os.Remove(path)
		return nil, fmt.Errorf("store: stage %s: %w", desc.Name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("store: stage %s: %w", desc.Name, err)
	}
	return &StagedArtifact{Descriptor: desc, Path: path}, nil
}

// AdoptStaged wraps an existing file inside the staging area (written
// there by the fetcher or converter) as a StagedArtifact without
// copying.
func (s *Store) AdoptStaged(desc *types.ArtifactDescriptor, path string) (*StagedArtifact, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, newStoreError(ErrStaleStaged, "adopt", desc.Name, err)
	}
	return &StagedArtifact{Descriptor: desc, Path: path}, nil
}

// Commit atomically replaces the active artifact for the staged
// artifact's logical name.
//
// Ordering guarantees the at-least-one-good-copy invariant:
//  1. the previously active bytes are copied into a durable backup
//  2. the staged bytes are moved to a fresh version-qualified path
//     in the active area
//  3. the manifest is written to a temp file and renamed into place
//  4. the superseded file is removed
//
// A concurrent reader observes either the old manifest with the old
// bytes or the new manifest with the new bytes, never a mix: each
// version has its own active filename, and the superseded file
// outlives the manifest swap, so whichever manifest a reader loaded
// still names a complete file whose bytes match its entry.
func (s *Store) Commit(staged *StagedArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := staged.Descriptor.Name
	if _, err := os.Stat(staged.Path); err != nil {
		return newStoreError(ErrStaleStaged, "commit", name, err)
	}

	manifest, err := s.loadManifest()
	if err != nil {
		return newStoreError(ErrCommit, "commit", name, err)
	}

	prior, hadPrior := manifest.Models[name]
	var backup *BackupRecord
	if hadPrior {
		backup, err = s.createBackup(name, prior)
		if err != nil {
			return newStoreError(ErrCommit, "commit", name, err)
		}
	}

	// New bytes land at their own version-qualified path before the
	// manifest swap.
	activePath := filepath.Join(s.activeDir(), staged.Descriptor.Filename())
	if err := os.Rename(staged.Path, activePath); err != nil {
		return newStoreError(ErrCommit, "commit", name, err)
	}
	if err := syncDir(s.activeDir()); err != nil {
		return newStoreError(ErrCommit, "commit", name, err)
	}

	next := manifest.Clone()
	entry := types.EntryFor(staged.Descriptor)
	if backup != nil {
		entry.Backups = append([]string{backup.ID()}, prior.Backups...)
		if len(entry.Backups) > s.maxBackups {
			entry.Backups = entry.Backups[:s.maxBackups]
		}
	}
	next.Models[name] = entry
	next.CreatedAt = time.Now().UTC()

	if err := s.writeManifest(next); err != nil {
		return newStoreError(ErrCommit, "commit", name, err)
	}

	// No manifest references the prior file anymore; its bytes are
	// durable in the backup.
	if hadPrior && prior.Filename != staged.Descriptor.Filename() {
		_ = os.Remove(filepath.Join(s.activeDir(), prior.Filename))
	}

	if evicted, err := s.evictBackups(name, s.maxBackups); err != nil {
		// Eviction failure does not undo the commit; retention catches
		// up on the next commit or prune.
		s.logger.Warn("backup eviction failed", map[string]any{"model": name, "error": err.Error()})
	} else {
		s.observeEvictions(evicted)
	}

	s.logger.Info("artifact committed", map[string]any{
		"model":    name,
		"version":  staged.Descriptor.Version,
		"filename": staged.Descriptor.Filename(),
	})
	return nil
}

// Rollback restores the most recent backup for name as the active
// artifact. The restored bytes are placed durably before the manifest
// swap; the "bad" active artifact is removed only afterwards. The
// consumed backup record is deleted once the restore is durable.
func (s *Store) Rollback(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest, err := s.loadManifest()
	if err != nil {
		return err
	}
	// A removed model has no manifest entry but may still have
	// backups; rollback restores it.
	current, hadActive := manifest.Models[name]

	records, err := s.listBackups(name)
	if err != nil {
		return newStoreError(ErrCommit, "rollback", name, err)
	}
	if len(records) == 0 {
		if !hadActive {
			return newStoreError(ErrUnknownModel, "rollback", name, fmt.Errorf("no active entry"))
		}
		return newStoreError(ErrNoBackupAvailable, "rollback", name, fmt.Errorf("history empty"))
	}
	latest := records[0]

	// Restore via staging so the active area only ever sees complete
	// files appear by rename.
	backupFile := filepath.Join(s.backupDir(name), latest.id, latest.Descriptor.Filename())
	restorePath := s.StagingPath(name)
	if err := copyFileSync(backupFile, restorePath); err != nil {
		return newStoreError(ErrCommit, "rollback", name, err)
	}

	activePath := filepath.Join(s.activeDir(), latest.Descriptor.Filename())
	if err := os.Rename(restorePath, activePath); err != nil {
		_ = os.Remove(restorePath)
		return newStoreError(ErrCommit, "rollback", name, err)
	}
	if err := syncDir(s.activeDir()); err != nil {
		return newStoreError(ErrCommit, "rollback", name, err)
	}

	next := manifest.Clone()
	entry := types.EntryFor(&latest.Descriptor)
	for _, record := range records[1:] {
		entry.Backups = append(entry.Backups, record.id)
	}
	next.Models[name] = entry
	next.CreatedAt = time.Now().UTC()
	if err := s.writeManifest(next); err != nil {
		return newStoreError(ErrCommit, "rollback", name, err)
	}

	// The restored copy is durable and authoritative; the bad artifact
	// and the consumed backup can go.
	if hadActive && current.Filename != latest.Descriptor.Filename() {
		_ = os.Remove(filepath.Join(s.activeDir(), current.Filename))
	}
	_ = os.RemoveAll(filepath.Join(s.backupDir(name), latest.id))

	s.logger.Info("artifact rolled back", map[string]any{
		"model":      name,
		"restored":   latest.Descriptor.Version,
		"superseded": current.Version,
	})
	return nil
}

// Remove backs up the active artifact for name, then deletes it from
// the active area and the manifest. The backup ordering mirrors
// Commit: the active bytes are never deleted before their backup copy
// is durable.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest, err := s.loadManifest()
	if err != nil {
		return err
	}
	entry, ok := manifest.Models[name]
	if !ok {
		return newStoreError(ErrUnknownModel, "remove", name, fmt.Errorf("no active entry"))
	}

	if _, err := s.createBackup(name, entry); err != nil {
		return newStoreError(ErrCommit, "remove", name, err)
	}

	next := manifest.Clone()
	delete(next.Models, name)
	next.CreatedAt = time.Now().UTC()
	if err := s.writeManifest(next); err != nil {
		return newStoreError(ErrCommit, "remove", name, err)
	}

	_ = os.Remove(filepath.Join(s.activeDir(), entry.Filename))

	s.logger.Info("artifact removed", map[string]any{
		"model":   name,
		"version": entry.Version,
	})
	return nil
}

// Prune evicts the oldest backups for name beyond keep.
func (s *Store) Prune(name string, keep int) (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		return 0, fmt.Errorf("store: prune keep must be >= 0, got %d", keep)
	}
	removed, err = s.evictBackups(name, keep)
	s.observeEvictions(removed)
	return removed, err
}

func (s *Store) observeEvictions(n int) {
	if n > 0 && s.evictions != nil {
		s.evictions.BackupsEvicted(int64(n))
	}
}

// Read returns the active descriptor and an open handle to the active
// bytes for name. The caller closes the handle.
//
// A concurrent commit can remove a superseded file between the
// manifest load and the open; Read re-resolves through the fresh
// manifest when it loses that race.
func (s *Store) Read(name string) (*types.ArtifactDescriptor, io.ReadCloser, error) {
	for attempt := 0; ; attempt++ {
		manifest, err := s.loadManifest()
		if err != nil {
			return nil, nil, err
		}
		entry, ok := manifest.Models[name]
		if !ok {
			return nil, nil, newStoreError(ErrUnknownModel, "read", name, fmt.Errorf("no active entry"))
		}

		f, err := os.Open(filepath.Join(s.activeDir(), entry.Filename))
		if err != nil {
			if os.IsNotExist(err) && attempt < 2 {
				continue
			}
			return nil, nil, newStoreError(ErrUnknownModel, "read", name, err)
		}
		return entry.Descriptor(name), f, nil
	}
}

// Manifest returns the current manifest, re-read from disk. There is
// no in-memory cache of "which model is active": consumers always
// resolve through the store.
func (s *Store) Manifest() (*types.ArtifactManifest, error) {
	return s.loadManifest()
}

// Backups returns the backup records for name, newest first.
func (s *Store) Backups(name string) ([]*BackupRecord, error) {
	return s.listBackups(name)
}

// CleanStaging removes leftover staged files older than maxAge.
// Abandoned pipeline runs (crash, kill) can strand .part files.
func (s *Store) CleanStaging(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.stagingDir())
	if err != nil {
		return fmt.Errorf("store: clean staging: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.stagingDir(), e.Name()))
		}
	}
	return nil
}
