package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// HistoryName is the durable version history file inside the versions
// directory. Oldest first; current version is the last element.
const HistoryName = "versions.json"

// ErrNoCurrent is returned by operations that need an adopted version when
// the history is still empty.
var ErrNoCurrent = errors.New("no current version")

type historyFile struct {
	Versions []string `json:"versions"`
}

// Store keeps the ordered history of adopted version identifiers and the
// per-version staging directories. It is the only writer of the history
// file and enforces the retention cap by evicting the oldest snapshots.
type Store struct {
	dir      string
	max      int
	versions []string
	log      *slog.Logger
}

// Open loads (or prepares) a store rooted at dir keeping at most max
// versions. A missing history file yields an empty history.
func Open(dir string, max int, log *slog.Logger) (*Store, error) {
	if max < 1 {
		return nil, fmt.Errorf("max versions must be positive, got %d", max)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create versions dir: %w", err)
	}
	s := &Store{dir: dir, max: max, log: log}
	b, err := os.ReadFile(s.historyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read version history: %w", err)
	}
	var h historyFile
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("parse version history: %w", err)
	}
	s.versions = h.Versions
	return s, nil
}

func (s *Store) historyPath() string { return filepath.Join(s.dir, HistoryName) }

// Current returns the most recently adopted identifier, or "" when empty.
func (s *Store) Current() string {
	if len(s.versions) == 0 {
		return ""
	}
	return s.versions[len(s.versions)-1]
}

// Previous returns the rollback target, or "" when fewer than two versions
// have been adopted.
func (s *Store) Previous() string {
	if len(s.versions) < 2 {
		return ""
	}
	return s.versions[len(s.versions)-2]
}

// History returns a copy of the ordered identifier list, oldest first.
func (s *Store) History() []string {
	return append([]string(nil), s.versions...)
}

// Dir maps an identifier to its staging directory. Pure; no side effects.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.dir, sanitize(id))
}

// sanitize keeps identifiers usable as a single path element. Release tags
// occasionally contain slashes (e.g. "release/v2").
func sanitize(id string) string {
	id = strings.ReplaceAll(id, string(os.PathSeparator), "_")
	return strings.ReplaceAll(id, "..", "_")
}

// SetCurrent adopts id as the current version. Re-adopting an identifier
// already in history is a no-op. The history file is persisted before the
// in-memory list is updated; a persist failure leaves both the file and
// memory unchanged so the caller can abort the update cycle.
func (s *Store) SetCurrent(id string) error {
	if id == "" {
		return errors.New("empty version identifier")
	}
	for _, v := range s.versions {
		if v == id {
			return nil
		}
	}
	next := append(append([]string(nil), s.versions...), id)
	var evicted []string
	for len(next) > s.max {
		evicted = append(evicted, next[0])
		next = next[1:]
	}
	if err := s.persist(next); err != nil {
		return fmt.Errorf("persist version history: %w", err)
	}
	s.versions = next
	for _, old := range evicted {
		if err := os.RemoveAll(s.Dir(old)); err != nil {
			s.log.Warn("failed to remove evicted version directory", "version", old, "error", err)
		} else {
			s.log.Info("evicted old version", "version", old)
		}
	}
	return nil
}

// persist writes atomically: temp file then rename.
func (s *Store) persist(versions []string) error {
	b, err := json.Marshal(historyFile{Versions: versions})
	if err != nil {
		return err
	}
	tmp := s.historyPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.historyPath())
}

// BackupCurrent snapshots the live application directory under the current
// identifier. Repeated calls overwrite. Fails when no version is adopted.
func (s *Store) BackupCurrent(appDir string) error {
	cur := s.Current()
	if cur == "" {
		return ErrNoCurrent
	}
	return s.snapshot(appDir, cur)
}

// InitializeFromExisting bootstraps history from whatever files live in the
// application directory, treating them as defaultID. First-run recovery only.
func (s *Store) InitializeFromExisting(appDir, defaultID string) error {
	if err := s.snapshot(appDir, defaultID); err != nil {
		return err
	}
	if err := s.SetCurrent(defaultID); err != nil {
		return err
	}
	s.log.Info("initialized version history from application directory", "version", defaultID)
	return nil
}

func (s *Store) snapshot(appDir, id string) error {
	dst := s.Dir(id)
	files, err := s.backupSet(dst, appDir)
	if err != nil {
		return fmt.Errorf("scan application dir: %w", err)
	}
	// The app may have removed a manifest-listed file at runtime; a backup
	// snapshots what is actually there.
	kept := files[:0]
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(appDir, f)); err == nil {
			kept = append(kept, f)
		} else {
			s.log.Warn("skipping missing file during backup", "version", id, "file", f)
		}
	}
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return err
	}
	if err := CopyFiles(appDir, dst, kept); err != nil {
		return fmt.Errorf("backup %s: %w", id, err)
	}
	return WriteManifest(dst, kept)
}

// backupSet prefers the manifest already staged for the version (fetch wrote
// it); without one it takes every regular file in the live directory.
func (s *Store) backupSet(dst, appDir string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(dst, ManifestName)); err == nil {
		return ReadManifest(dst)
	}
	return listFiles(appDir)
}
