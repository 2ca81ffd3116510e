// Package rollout is a self-updating supervisor: it runs one managed
// application process, polls a remote release source, and applies updates
// with backup, health verification, and automatic rollback.
package rollout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/guard"
	"github.com/loykin/rollout/internal/health"
	"github.com/loykin/rollout/internal/history"
	"github.com/loykin/rollout/internal/history/factory"
	"github.com/loykin/rollout/internal/logger"
	"github.com/loykin/rollout/internal/metrics"
	"github.com/loykin/rollout/internal/server"
	"github.com/loykin/rollout/internal/source"
	"github.com/loykin/rollout/internal/source/github"
	"github.com/loykin/rollout/internal/supervisor"
	"github.com/loykin/rollout/internal/updater"
	"github.com/loykin/rollout/internal/version"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Status = updater.Status

type State = updater.State

type Descriptor = source.Descriptor

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Updater wires the version store, process supervisor, health verifier and
// remote source into one update controller.
type Updater struct {
	cfg  *Config
	ctrl *updater.Controller
	sink io.Closer
	log  *slog.Logger
}

// New assembles an Updater from configuration. The returned instance is
// inert until Run is called.
func New(c *Config) (*Updater, error) {
	log := logger.New(c.LogLevel, c.LogColor)

	store, err := version.Open(c.VersionsDir, c.MaxVersions, log.With("component", "version"))
	if err != nil {
		return nil, err
	}

	proc := supervisor.New(supervisor.Spec{
		Name:        c.Process.Name,
		Command:     c.Process.Command,
		WorkDir:     c.Process.WorkDir,
		Env:         c.Process.Env,
		GracePeriod: c.Process.GracePeriod,
		Log:         c.Process.Log,
	}, log.With("component", "supervisor"))

	stdoutPath, _ := c.Process.Log.Paths(c.Process.Name)
	verifier := health.New(health.Config{
		SettleDelay: c.Health.SettleDelay,
		Interval:    c.Health.Interval,
		Staleness:   c.Health.Staleness,
		DBPath:      c.Health.DBPath,
		LogMarkers:  c.Health.LogMarkers,
		LogPath:     stdoutPath,
	}, proc, log.With("component", "health"))

	src := github.New(github.Config{
		Owner:   c.Source.Owner,
		Repo:    c.Source.Repo,
		Branch:  c.Source.Branch,
		Token:   c.Source.Token,
		APIBase: c.Source.APIBase,
		Path:    c.Source.Path,
	}, log.With("component", "github"))

	var sink history.Sink
	var closer io.Closer
	if c.History.DSN != "" {
		sink, err = factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		closer, _ = sink.(io.Closer)
	}
	rec := history.NewRecorder(sink, log.With("component", "history"))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	ctrl := updater.New(updater.Config{
		PollInterval:   c.PollInterval,
		AppDir:         c.AppDir,
		DefaultVersion: c.DefaultVersion,
		VerifyTimeout:  c.Health.Timeout,
	}, store, proc, src, verifier, rec, log.With("component", "updater"))

	return &Updater{cfg: c, ctrl: ctrl, sink: closer, log: log}, nil
}

// Snapshot reports the controller state for status surfaces.
func (u *Updater) Snapshot() Status { return u.ctrl.Snapshot() }

// Run acquires the single-instance guard, starts the optional status API,
// and drives the update loop until ctx is canceled.
func (u *Updater) Run(ctx context.Context) error {
	if u.cfg.GuardFile != "" {
		g, err := guard.Acquire(u.cfg.GuardFile)
		if err != nil {
			return err
		}
		defer g.Release()
	}

	var srv *http.Server
	if u.cfg.Server.Listen != "" {
		srv = server.NewServer(u.cfg.Server.Listen, u.cfg.Server.BasePath, u.ctrl)
		u.log.Info("status API listening", "addr", u.cfg.Server.Listen)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	err := u.ctrl.Run(ctx)
	if u.sink != nil {
		_ = u.sink.Close()
	}
	return err
}
