// Package guard implements a best-effort single-instance guard file. It is a
// heuristic safeguard against running two updaters over the same application
// directory, not a correctness guarantee.
package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Guard holds the acquired guard file.
type Guard struct {
	path string
}

// Acquire writes our pid into path. It fails when the file names a pid that
// is still alive; stale files left by a crashed instance are replaced.
func Acquire(path string) (*Guard, error) {
	if b, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
		if err == nil && pid > 0 && pid != os.Getpid() && syscall.Kill(pid, 0) == nil {
			return nil, fmt.Errorf("another instance appears to be running (pid %d)", pid)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return nil, err
	}
	return &Guard{path: path}, nil
}

// Release removes the guard file, best effort.
func (g *Guard) Release() {
	if g == nil || g.path == "" {
		return
	}
	_ = os.Remove(g.path)
}
