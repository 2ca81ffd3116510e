package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// exit polling cadence during graceful stop
const stopPollInterval = time.Second

// ErrAlreadyRunning is returned by Start when a live handle exists.
var ErrAlreadyRunning = errors.New("process already running")

// Status is a snapshot of the managed process handle. ExitErr is the exit
// error text so it survives JSON marshaling for the status API.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty"`
}

// Supervisor starts and stops one managed application process with
// graceful-then-forced termination. At most one live handle exists at a time.
type Supervisor struct {
	spec Spec
	log  *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the waiter when cmd.Wait returns
}

func New(spec Spec, log *slog.Logger) *Supervisor {
	return &Supervisor{spec: spec, log: log}
}

// Start launches the configured command with output capture and records the
// handle. An immediate start failure is surfaced; the caller must not assume
// the process is alive afterwards.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.cmd != nil && s.status.Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.mu.Unlock()

	cmd := s.configureCmd()
	if err := cmd.Start(); err != nil {
		s.closeWriters()
		return fmt.Errorf("start %s: %w", s.spec.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.waitDone = make(chan struct{})
	s.status = Status{
		Name:      s.spec.Name,
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	wd := s.waitDone
	s.mu.Unlock()

	s.log.Info("application started", "name", s.spec.Name, "pid", cmd.Process.Pid)

	// Single waiter per run: reaps the child and finalizes state. It blocks
	// on Wait rather than polling.
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.status.Running = false
		s.status.StoppedAt = time.Now()
		if err != nil {
			s.status.ExitErr = err.Error()
		}
		s.mu.Unlock()
		s.closeWriters()
		close(wd)
	}()
	return nil
}

func (s *Supervisor) configureCmd() *exec.Cmd {
	cmd := s.spec.BuildCommand()
	if s.spec.WorkDir != "" {
		cmd.Dir = s.spec.WorkDir
	}
	if len(s.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), s.spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.spec.Log.Dir != "" || s.spec.Log.StdoutPath != "" || s.spec.Log.StderrPath != "" {
		if s.spec.Log.Dir != "" {
			_ = os.MkdirAll(s.spec.Log.Dir, 0o750)
		}
		outW, errW, _ := s.spec.Log.Writers(s.spec.Name)
		s.mu.Lock()
		s.outCloser, s.errCloser = outW, errW
		s.mu.Unlock()
		if outW != nil {
			cmd.Stdout = outW
		} else {
			cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if errW != nil {
			cmd.Stderr = errW
		} else {
			cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	return cmd
}

func (s *Supervisor) closeWriters() {
	s.mu.Lock()
	if s.outCloser != nil {
		_ = s.outCloser.Close()
		s.outCloser = nil
	}
	if s.errCloser != nil {
		_ = s.errCloser.Close()
		s.errCloser = nil
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	return st
}

// Alive probes liveness of the tracked handle.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return pidAlive(cmd.Process.Pid)
}

func pidAlive(pid int) bool {
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombieLinux returns true if /proc/<pid>/status reports state Z.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// Stop terminates the managed process: SIGTERM to the process group, exit
// polled once per second up to the grace period, then SIGKILL. When no
// in-memory handle exists (fresh supervisor instance), it falls back to
// terminating by the configured command line. Postcondition: no process with
// the tracked pid is running when Stop returns.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	wd := s.waitDone
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return s.stopByCommand(ctx)
	}
	if !s.Alive() {
		return nil
	}

	pid := cmd.Process.Pid
	s.log.Info("stopping application", "name", s.spec.Name, "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	grace := s.spec.GracePeriod
	if grace <= 0 {
		grace = 25 * time.Second
	}
	if s.awaitExit(ctx, wd, grace) {
		return nil
	}

	s.log.Warn("grace period elapsed, force killing", "name", s.spec.Name, "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	if !s.awaitExit(ctx, wd, 2*time.Second) {
		// Forced kill is assumed reliable on the host; the waiter may just
		// not have reaped yet.
		s.log.Warn("process not reaped after SIGKILL", "pid", pid)
	}
	return nil
}

// awaitExit waits for the waiter to reap the child, checking once per second,
// until the deadline. Returns true when the process exited.
func (s *Supervisor) awaitExit(ctx context.Context, wd chan struct{}, window time.Duration) bool {
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-wd:
			return true
		case <-ticker.C:
			if !s.Alive() {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		case <-ctx.Done():
			return !s.Alive()
		}
	}
}

// stopByCommand is the cross-instance recovery path: the handle cannot be
// reconstructed, so processes are located by their command line under /proc
// and terminated with the same escalation.
func (s *Supervisor) stopByCommand(ctx context.Context) error {
	pids, err := findByCommandLine(s.spec.Command)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return nil
	}
	s.log.Info("no process handle, stopping by command line", "name", s.spec.Name, "pids", pids)
	for _, pid := range pids {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
	grace := s.spec.GracePeriod
	if grace <= 0 {
		grace = 25 * time.Second
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if !anyAlive(pids) {
			return nil
		}
		time.Sleep(stopPollInterval)
	}
	for _, pid := range pids {
		if pidAlive(pid) {
			s.log.Warn("force killing", "pid", pid)
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
	return nil
}

func anyAlive(pids []int) bool {
	for _, pid := range pids {
		if pidAlive(pid) {
			return true
		}
	}
	return false
}

// findByCommandLine scans /proc for processes whose command line contains
// the given command string.
func findByCommandLine(command string) ([]int, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("empty command")
	}
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		b, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
		if err != nil || len(b) == 0 {
			continue
		}
		cmdline := strings.ReplaceAll(strings.TrimRight(string(b), "\x00"), "\x00", " ")
		if strings.Contains(cmdline, command) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
