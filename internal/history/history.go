// Package history keeps an audit ledger of model runs. It is never consulted
// to decide whether a run may start.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusSkipped   = "skipped"
)

// ErrNotFound is returned when a run is not in the ledger.
var ErrNotFound = errors.New("run not found")

// Run is one model execution against one image.
type Run struct {
	ID         string    `json:"id"`
	ImageUID   string    `json:"image_uid"`
	Model      string    `json:"model"`
	Backend    string    `json:"backend,omitempty"`
	Format     string    `json:"format,omitempty"`
	Device     string    `json:"device,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Outputs    int       `json:"outputs"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewID returns a new lexicographically sortable run identifier.
func NewID() string {
	return ulid.Make().String()
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	ImageUID string
	Model    string
	Limit    int
	Offset   int
}

// Stats holds aggregate run statistics.
type Stats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs.
type Store interface {
	Record(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, f Filter) ([]*Run, int, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
