package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of update-cycle event.
type EventType string

const (
	EventCheck    EventType = "check"
	EventDownload EventType = "download"
	EventApply    EventType = "apply"
	EventCommit   EventType = "commit"
	EventRollback EventType = "rollback"
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
)

// Event represents one update-cycle transition to be exported to external
// audit/statistics systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`          // version the event concerns
	From       string    `json:"from,omitempty"`   // prior version for apply/rollback
	Detail     string    `json:"detail,omitempty"` // error text or note
}

// Sink is a destination for update events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder wraps an optional sink; a nil recorder or nil sink drops events.
// Send failures are logged, never propagated: audit must not fail an update.
type Recorder struct {
	sink Sink
	log  *slog.Logger
}

func NewRecorder(sink Sink, log *slog.Logger) *Recorder {
	return &Recorder{sink: sink, log: log}
}

func (r *Recorder) Record(ctx context.Context, typ EventType, version, from, detail string) {
	if r == nil || r.sink == nil {
		return
	}
	e := Event{Type: typ, OccurredAt: time.Now(), Version: version, From: from, Detail: detail}
	if err := r.sink.Send(ctx, e); err != nil {
		r.log.Warn("history sink send failed", "type", typ, "error", err)
	}
}
