// Package updater orchestrates the update cycle: poll the remote source,
// download into staging, swap files into the live application directory,
// restart the managed process, verify, and roll back on failure.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/rollout/internal/history"
	"github.com/loykin/rollout/internal/metrics"
	"github.com/loykin/rollout/internal/source"
	"github.com/loykin/rollout/internal/supervisor"
	"github.com/loykin/rollout/internal/version"
)

// Verifier confirms a freshly started version is operating.
type Verifier interface {
	Verify(ctx context.Context, version string, timeout time.Duration) bool
}

// Config carries the orchestration knobs; component-specific settings live
// with the components themselves.
type Config struct {
	PollInterval   time.Duration
	AppDir         string
	DefaultVersion string // identifier assumed for pre-existing files on first run
	VerifyTimeout  time.Duration
}

// Controller runs the update state machine. One instance, serial execution:
// at most one cycle is ever in flight.
type Controller struct {
	cfg      Config
	store    *version.Store
	proc     *supervisor.Supervisor
	src      source.Source
	verifier Verifier
	rec      *history.Recorder
	log      *slog.Logger

	mu    sync.Mutex
	state State
}

func New(cfg Config, store *version.Store, proc *supervisor.Supervisor, src source.Source, verifier Verifier, rec *history.Recorder, log *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		store:    store,
		proc:     proc,
		src:      src,
		verifier: verifier,
		rec:      rec,
		log:      log,
		state:    StateIdle,
	}
}

// State returns the current cycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug("state transition", "from", prev, "to", s)
	}
}

// Status is a snapshot for the HTTP API.
type Status struct {
	State    State             `json:"state"`
	Current  string            `json:"current"`
	Previous string            `json:"previous,omitempty"`
	History  []string          `json:"history"`
	Process  supervisor.Status `json:"process"`
}

func (c *Controller) Snapshot() Status {
	return Status{
		State:    c.State(),
		Current:  c.store.Current(),
		Previous: c.store.Previous(),
		History:  c.store.History(),
		Process:  c.proc.Snapshot(),
	}
}

// Run starts the managed application and polls for updates until ctx is
// canceled, then stops the application best-effort. The inter-cycle sleep is
// interruptible; a cycle already applying or verifying is allowed to reach
// Committed or RollingBack before shutdown proceeds.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.bootstrap(ctx); err != nil {
		return err
	}
	metrics.SetCurrentVersion(c.store.Current())

	for {
		c.cycle(ctx)

		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			c.log.Info("shutdown requested")
			c.shutdown()
			return nil
		}
	}
}

// bootstrap starts the current application. A start failure is treated as
// the "no version installed" case: history is initialized from whatever
// files live in the application directory and the start is retried once.
func (c *Controller) bootstrap(ctx context.Context) error {
	startErr := c.start(ctx)
	if startErr == nil && c.store.Current() != "" {
		return nil
	}
	if startErr != nil {
		c.log.Error("failed to start application, initializing from application directory", "error", startErr)
	}
	if c.store.Current() == "" {
		if err := c.store.InitializeFromExisting(c.cfg.AppDir, c.cfg.DefaultVersion); err != nil {
			return fmt.Errorf("initialize version history: %w", err)
		}
	}
	if startErr != nil {
		if err := c.start(ctx); err != nil {
			return fmt.Errorf("start application after bootstrap: %w", err)
		}
	}
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	err := c.proc.Start()
	if err == nil {
		metrics.IncStart()
		c.rec.Record(ctx, history.EventStart, c.store.Current(), "", "")
	}
	return err
}

func (c *Controller) stop(ctx context.Context) error {
	err := c.proc.Stop(ctx)
	if err == nil {
		metrics.IncStop()
		c.rec.Record(ctx, history.EventStop, c.store.Current(), "", "")
	}
	return err
}

// cycle performs one full pass of the state machine and always returns to
// Idle. Transient check/download failures mutate nothing and are retried at
// the next scheduled poll only.
func (c *Controller) cycle(ctx context.Context) {
	defer c.setState(StateIdle)

	c.setState(StateChecking)
	desc, err := c.src.Latest(ctx)
	if err != nil {
		metrics.IncCheck("error")
		c.log.Warn("update check failed", "error", err)
		return
	}
	if desc == nil || desc.ID == c.store.Current() {
		metrics.IncCheck("current")
		c.log.Info("no new updates available", "current", c.store.Current())
		return
	}
	metrics.IncCheck("new")
	c.rec.Record(ctx, history.EventCheck, desc.ID, c.store.Current(), "")
	c.log.Info("update available", "version", desc.ID, "current", c.store.Current())

	begin := time.Now()

	c.setState(StateDownloading)
	staging := c.store.Dir(desc.ID)
	files, err := c.src.Fetch(ctx, desc, staging)
	if err != nil {
		metrics.IncDownload("error")
		c.log.Warn("download failed, will retry next poll", "version", desc.ID, "error", err)
		return
	}
	if err := version.WriteManifest(staging, files); err != nil {
		metrics.IncDownload("error")
		c.log.Warn("writing staged manifest failed, will retry next poll", "version", desc.ID, "error", err)
		return
	}
	metrics.IncDownload("ok")
	c.rec.Record(ctx, history.EventDownload, desc.ID, "", fmt.Sprintf("%d files", len(files)))

	c.setState(StateApplying)
	if err := c.apply(ctx, desc.ID, staging, files); err != nil {
		c.log.Error("apply failed", "version", desc.ID, "error", err)
		c.rollback(desc.ID, err)
		return
	}

	c.setState(StateVerifying)
	if err := c.start(ctx); err != nil {
		c.rollback(desc.ID, err)
		return
	}
	if !c.verifier.Verify(ctx, desc.ID, c.cfg.VerifyTimeout) {
		c.rollback(desc.ID, fmt.Errorf("verification timed out after %s", c.cfg.VerifyTimeout))
		return
	}

	c.setState(StateCommitted)
	metrics.IncApplied()
	metrics.SetCurrentVersion(desc.ID)
	metrics.ObserveCycle(time.Since(begin).Seconds())
	c.rec.Record(ctx, history.EventCommit, desc.ID, "", "")
	c.log.Info("update committed", "version", desc.ID)
}

// apply stops the process, backs up the running files under the current
// identifier, copies staged files over the live directory, and commits the
// new identifier. A history persistence failure aborts the cycle.
func (c *Controller) apply(ctx context.Context, id, staging string, files []string) error {
	if err := c.stop(ctx); err != nil {
		return fmt.Errorf("stop application: %w", err)
	}
	if c.store.Current() != "" {
		if err := c.store.BackupCurrent(c.cfg.AppDir); err != nil {
			return fmt.Errorf("backup current version: %w", err)
		}
	}
	if err := version.CopyFiles(staging, c.cfg.AppDir, files); err != nil {
		return fmt.Errorf("copy staged files: %w", err)
	}
	if err := c.store.SetCurrent(id); err != nil {
		return err
	}
	c.rec.Record(ctx, history.EventApply, id, c.store.Previous(), "")
	return nil
}

// rollback restores the pre-update snapshot and restarts the process. When
// no rollback target exists the failure is terminal for this cycle only:
// the new, unverified version is left running and polling resumes.
func (c *Controller) rollback(failedID string, cause error) {
	c.setState(StateRollingBack)

	// The cycle may be rolling back because shutdown canceled the original
	// context; restoring files must still reach a safe state.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// If the failed identifier was committed, the rollback target is the
	// entry before it; otherwise the adopted version never changed and its
	// own snapshot is restored.
	target := c.store.Current()
	if target == failedID {
		target = c.store.Previous()
	}
	if target == "" || target == failedID {
		metrics.IncRollback("impossible")
		c.rec.Record(ctx, history.EventRollback, failedID, "", "no previous version")
		c.log.Error("rollback impossible: no previous version, leaving new version running",
			"version", failedID, "cause", cause)
		if !c.proc.Alive() {
			if err := c.start(ctx); err != nil {
				c.log.Error("failed to restart unverified version", "error", err)
			}
		}
		return
	}

	c.log.Warn("rolling back", "to", target, "failed", failedID, "cause", cause)
	if err := c.restore(ctx, target); err != nil {
		metrics.IncRollback("failed")
		c.rec.Record(ctx, history.EventRollback, target, failedID, err.Error())
		c.log.Error("rollback failed; application may be left non-functional until the next deploy",
			"to", target, "error", err)
		return
	}
	metrics.IncRollback("ok")
	metrics.SetCurrentVersion(c.store.Current())
	c.rec.Record(ctx, history.EventRollback, target, failedID, "")
	c.log.Info("rolled back", "to", target)
}

func (c *Controller) restore(ctx context.Context, target string) error {
	if err := c.stop(ctx); err != nil {
		return fmt.Errorf("stop application: %w", err)
	}
	dir := c.store.Dir(target)
	files, err := version.ReadManifest(dir)
	if err != nil {
		return fmt.Errorf("read manifest for %s: %w", target, err)
	}
	if err := version.CopyFiles(dir, c.cfg.AppDir, files); err != nil {
		return fmt.Errorf("restore files: %w", err)
	}
	// Re-adopting an identifier already in history is a no-op write; the
	// failed identifier stays recorded so the same broken version is not
	// re-applied on the next poll.
	if err := c.store.SetCurrent(target); err != nil {
		return err
	}
	return c.start(ctx)
}

// shutdown stops the managed process best-effort after the poll loop exits.
func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := c.stop(ctx); err != nil {
		c.log.Warn("stopping application during shutdown failed", "error", err)
	}
}
