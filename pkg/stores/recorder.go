package stores

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

// ChangeLog collects the changes of one run as the reconcilers report them.
// It is safe for concurrent use.
type ChangeLog struct {
	mu  sync.Mutex
	run Run
	now func() time.Time
}

// NewChangeLog starts a run record with a fresh id.
func NewChangeLog(operation, source string, mode engine.Mode) *ChangeLog {
	l := &ChangeLog{now: time.Now}
	l.run = Run{
		ID:        uuid.NewString(),
		Operation: operation,
		Source:    source,
		Mode:      mode.String(),
		StartedAt: l.now(),
	}
	return l
}

// ID returns the run id.
func (l *ChangeLog) ID() string {
	return l.run.ID
}

// SetTraceID links the run to its trace.
func (l *ChangeLog) SetTraceID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.TraceID = id
}

// SetMode updates the recorded mode, e.g. when a check pass is followed by a
// write pass.
func (l *ChangeLog) SetMode(mode engine.Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Mode = mode.String()
}

// RecordChange appends a change.
func (l *ChangeLog) RecordChange(c engine.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Changes = append(l.run.Changes, ChangeRecord{
		Seq:        len(l.run.Changes),
		Kind:       c.Kind,
		Scope:      c.Scope,
		Identity:   c.Identity,
		Action:     string(c.Action),
		Applied:    c.Applied,
		RecordedAt: l.now(),
	})
}

// Len returns how many changes were recorded so far.
func (l *ChangeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.run.Changes)
}

// Finish closes the run with its outcome and error and returns a copy ready
// to be saved.
func (l *ChangeLog) Finish(outcome string, err error) *Run {
	l.mu.Lock()
	defer l.mu.Unlock()

	completed := l.now()
	run := l.run
	run.Outcome = outcome
	run.CompletedAt = &completed
	if err != nil {
		msg := err.Error()
		run.Error = &msg
	}
	run.Changes = append([]ChangeRecord(nil), l.run.Changes...)
	return &run
}
