package guard

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireWritesOwnPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "rollout.pid")
	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read guard file: %v", err)
	}
	if got := string(b); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("guard file = %q, want own pid", got)
	}
	g.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("guard file not removed: %v", err)
	}
}

func TestAcquireRejectsLivePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollout.pid")
	// pid 1 is always alive.
	if err := os.WriteFile(path, []byte("1"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Acquire(path); err == nil {
		t.Fatalf("Acquire succeeded with live foreign pid")
	}
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollout.pid")
	// An impossibly large pid cannot belong to a live process.
	if err := os.WriteFile(path, []byte("999999999"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire over stale file: %v", err)
	}
	defer g.Release()
	b, _ := os.ReadFile(path)
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("stale file not replaced: %q", b)
	}
}

func TestAcquireIgnoresGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollout.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	g, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire over garbage file: %v", err)
	}
	g.Release()
}

func TestReleaseOnNilIsSafe(t *testing.T) {
	var g *Guard
	g.Release()
}
