package stores

import (
	"context"
	"time"
)

// Run is one recorded invocation of a reconciling command.
type Run struct {
	ID          string
	Operation   string
	Source      string
	Mode        string
	Outcome     string
	Error       *string
	TraceID     string
	StartedAt   time.Time
	CompletedAt *time.Time
	Changes     []ChangeRecord
}

// Failed reports whether the run ended with an error.
func (r *Run) Failed() bool {
	return r.Error != nil && *r.Error != ""
}

// ChangeRecord is one change a run planned or applied.
type ChangeRecord struct {
	Seq        int
	Kind       string
	Scope      string
	Identity   string
	Action     string
	Applied    bool
	RecordedAt time.Time
}

// Store persists run history.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
}
