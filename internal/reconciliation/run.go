package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"invoicing/internal/logger"
)

// Stage names a pipeline step.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageRequest   Stage = "request"
	StageValidate  Stage = "validate"
	StageConvert   Stage = "convert"
	StageApply     Stage = "apply"
)

// EventKind is the lifecycle phase an Event reports.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventProgress  EventKind = "progress"
)

// Event is one structured progress record of a run.
type Event struct {
	RunID   string
	Batch   string
	Stage   Stage
	Kind    EventKind
	Message string
	Count   int
	At      time.Time
}

// RunContext carries the correlation identifiers of one batch execution and
// accumulates its events. Each stage receives it explicitly.
type RunContext struct {
	ID    string
	Batch string
	Log   zerolog.Logger

	mu       sync.Mutex
	events   []Event
	progress chan<- Event
	done     <-chan struct{}
}

// NewRunContext creates a run with a fresh id. progress may be nil; when set,
// events are also sent on it until ctx is done.
func NewRunContext(ctx context.Context, batch string, progress chan<- Event) *RunContext {
	id := uuid.NewString()
	return &RunContext{
		ID:       id,
		Batch:    batch,
		Log:      logger.WithRun(id, batch),
		progress: progress,
		done:     ctx.Done(),
	}
}

// Emit records an event and forwards it to the progress channel.
func (rc *RunContext) Emit(stage Stage, kind EventKind, message string, count int) {
	ev := Event{
		RunID:   rc.ID,
		Batch:   rc.Batch,
		Stage:   stage,
		Kind:    kind,
		Message: message,
		Count:   count,
		At:      time.Now(),
	}

	rc.mu.Lock()
	rc.events = append(rc.events, ev)
	rc.mu.Unlock()

	rc.Log.Debug().
		Str("stage", string(stage)).
		Str("kind", string(kind)).
		Int("count", count).
		Msg(message)

	if rc.progress == nil {
		return
	}
	select {
	case rc.progress <- ev:
	case <-rc.done:
	}
}

// Events returns a copy of the events emitted so far.
func (rc *RunContext) Events() []Event {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]Event(nil), rc.events...)
}
