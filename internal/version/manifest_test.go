package version

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files := []string{"b.txt", "a.py", "sub/c.py"}
	if err := WriteManifest(dir, files); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	want := []string{"a.py", "b.txt", "sub/c.py"} // sorted on write
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("manifest = %v, want %v", got, want)
	}
}

func TestReadManifestFallsBackToFileListing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "x")
	writeFile(t, dir, "nested/data.txt", "y")
	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	want := []string{"app.py", "nested/data.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fallback listing = %v, want %v", got, want)
	}
}

func TestReadManifestRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestName, "{not json")
	if _, err := ReadManifest(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCopyFilesCreatesIntermediateDirs(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, src, "a/b/c.txt", "deep")
	if err := CopyFiles(src, dst, []string{"a/b/c.txt"}); err != nil {
		t.Fatalf("CopyFiles: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dst, "a/b/c.txt"))
	if err != nil || string(b) != "deep" {
		t.Fatalf("copied file mismatch: %v %q", err, b)
	}
}

func TestCopyFilesMissingSourceFails(t *testing.T) {
	if err := CopyFiles(t.TempDir(), t.TempDir(), []string{"absent.py"}); err == nil {
		t.Fatalf("expected error for missing source file")
	}
}
