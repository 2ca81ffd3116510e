package version

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ManifestName is the per-version file listing which files belong to the
// deployed snapshot. Written by fetch and backup, read by apply and rollback.
const ManifestName = "manifest.json"

type manifest struct {
	Files []string `json:"files"`
}

// WriteManifest records files (paths relative to dir) as the contents of the
// version snapshot in dir.
func WriteManifest(dir string, files []string) error {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	b, err := json.Marshal(manifest{Files: sorted})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestName), b, 0o600)
}

// ReadManifest returns the file list of the snapshot in dir. Directories
// without a manifest fall back to enumerating regular files, so hand-seeded
// version directories remain usable for rollback.
func ReadManifest(dir string) ([]string, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return listFiles(dir)
		}
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestName, err)
	}
	return m.Files, nil
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == ManifestName {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// CopyFiles copies the named files (relative paths) from src into dst,
// creating intermediate directories. Existing destination files are
// overwritten.
func CopyFiles(src, dst string, files []string) error {
	for _, f := range files {
		if err := copyFile(filepath.Join(src, f), filepath.Join(dst, f)); err != nil {
			return fmt.Errorf("copy %s: %w", f, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
