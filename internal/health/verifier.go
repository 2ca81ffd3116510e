// Package health confirms that a freshly started application version is
// operating. The primary signal is a structured heartbeat row the managed
// application writes to a SQLite status database; scanning captured log
// output for markers is kept as a configurable fallback.
package health

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// tail window read from the captured log when marker scanning is enabled
const tailBytes = 64 * 1024

// Liveness reports whether the managed process is still running.
type Liveness interface {
	Alive() bool
}

// Config controls the verification loop.
type Config struct {
	SettleDelay time.Duration // wait before the first probe
	Interval    time.Duration // probe cadence
	Staleness   time.Duration // max age of an acceptable heartbeat
	DBPath      string        // heartbeat database; empty disables the DB probe
	LogMarkers  []string      // markers proving liveness in captured output
	LogPath     string        // captured stdout path for marker scanning
}

// Verifier polls a liveness signal until a timeout elapses.
type Verifier struct {
	cfg  Config
	proc Liveness
	log  *slog.Logger
}

func New(cfg Config, proc Liveness, log *slog.Logger) *Verifier {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 5 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 60 * time.Second
	}
	return &Verifier{cfg: cfg, proc: proc, log: log}
}

// Verify returns true only when a positive liveness signal for version is
// observed before timeout. A process exit at any point fails immediately,
// regardless of any marker seen earlier.
func (v *Verifier) Verify(ctx context.Context, version string, timeout time.Duration) bool {
	select {
	case <-time.After(v.cfg.SettleDelay):
	case <-ctx.Done():
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		if !v.proc.Alive() {
			v.log.Error("application process has terminated during verification", "version", version)
			return false
		}
		if v.probe(ctx, version) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		select {
		case <-time.After(v.cfg.Interval):
		case <-ctx.Done():
			return false
		}
	}
}

func (v *Verifier) probe(ctx context.Context, version string) bool {
	if v.cfg.DBPath != "" && v.checkHeartbeat(ctx, version) {
		v.log.Info("heartbeat confirms application is operating", "version", version)
		return true
	}
	if len(v.cfg.LogMarkers) > 0 && v.checkLogTail() {
		v.log.Info("log markers confirm application is operating", "version", version)
		return true
	}
	return false
}

// checkHeartbeat accepts the newest app_health row when it is OK, recent,
// and names the expected version.
func (v *Verifier) checkHeartbeat(ctx context.Context, version string) bool {
	if _, err := os.Stat(v.cfg.DBPath); err != nil {
		return false
	}
	db, err := sql.Open("sqlite", v.cfg.DBPath)
	if err != nil {
		v.log.Warn("cannot open heartbeat database", "error", err)
		return false
	}
	defer func() { _ = db.Close() }()

	var gotVersion, updatedAt string
	var ok int
	row := db.QueryRowContext(ctx,
		`SELECT version, updated_at, ok FROM app_health ORDER BY updated_at DESC LIMIT 1`)
	if err := row.Scan(&gotVersion, &updatedAt, &ok); err != nil {
		if err != sql.ErrNoRows {
			v.log.Debug("heartbeat query failed", "error", err)
		}
		return false
	}
	if ok != 1 || gotVersion != version {
		return false
	}
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		v.log.Warn("unparseable heartbeat timestamp", "updated_at", updatedAt)
		return false
	}
	return time.Since(ts) < v.cfg.Staleness
}

// checkLogTail is the heuristic fallback: the captured stdout file must have
// been written to recently and its tail must contain a configured marker.
func (v *Verifier) checkLogTail() bool {
	fi, err := os.Stat(v.cfg.LogPath)
	if err != nil {
		return false
	}
	if time.Since(fi.ModTime()) > v.cfg.Staleness {
		return false
	}
	f, err := os.Open(v.cfg.LogPath)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	offset := fi.Size() - tailBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, fi.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return false
	}
	for _, m := range v.cfg.LogMarkers {
		if bytes.Contains(buf, []byte(m)) {
			return true
		}
	}
	return false
}
