package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsDerivedFromDir(t *testing.T) {
	c := Config{Dir: "/var/log/rollout"}
	stdout, stderr := c.Paths("app")
	if stdout != filepath.Join("/var/log/rollout", "app.stdout.log") {
		t.Fatalf("stdout = %q", stdout)
	}
	if stderr != filepath.Join("/var/log/rollout", "app.stderr.log") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestPathsExplicitOverrideDir(t *testing.T) {
	c := Config{Dir: "/var/log", StdoutPath: "/tmp/out.log"}
	stdout, stderr := c.Paths("app")
	if stdout != "/tmp/out.log" {
		t.Fatalf("stdout = %q, want explicit path", stdout)
	}
	if !strings.HasPrefix(stderr, "/var/log") {
		t.Fatalf("stderr = %q, want derived from dir", stderr)
	}
}

func TestPathsEmptyWhenUnconfigured(t *testing.T) {
	stdout, stderr := Config{}.Paths("app")
	if stdout != "" || stderr != "" {
		t.Fatalf("unconfigured paths = %q %q, want empty", stdout, stderr)
	}
}

func TestWritersCreateAndAppend(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	outW, errW, err := c.Writers("app")
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("writers not created")
	}
	if _, err := outW.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()
	b, err := os.ReadFile(filepath.Join(dir, "app.stdout.log"))
	if err != nil || string(b) != "hello\n" {
		t.Fatalf("captured output mismatch: %v %q", err, b)
	}
}

func TestWritersNilWhenUnconfigured(t *testing.T) {
	outW, errW, err := Config{}.Writers("app")
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers without destinations")
	}
}

func TestNewLevelParsing(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error", "bogus", ""} {
		if log := New(level, false); log == nil {
			t.Fatalf("New(%q) returned nil", level)
		}
	}
	if log := New("info", true); log == nil {
		t.Fatalf("color logger nil")
	}
}
