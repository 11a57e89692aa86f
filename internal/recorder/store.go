package recorder

import (
	"context"
	"time"
)

// Run describes one recorder lifetime.
type Run struct {
	ID        string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`

	// EndedAt is zero while the run is open.
	EndedAt time.Time `json:"ended_at,omitempty"`

	// ClosedIncorrect marks runs that were closed on the next start
	// because the previous process never called Stop.
	ClosedIncorrect bool `json:"closed_incorrect"`
}

// Open reports whether the run has not ended yet.
func (r Run) Open() bool {
	return r.EndedAt.IsZero()
}

// Store is the ordered, durable state table.
//
// Records are ordered by (entity_id, last_updated, id). Inserts come only
// from the Writer goroutine; all read methods are safe to call
// concurrently with it and observe committed rows only.
type Store interface {
	// Insert appends s and sets s.ID to the committed sequence number.
	Insert(ctx context.Context, s *State) error

	// LatestBefore returns the newest record for entityID with
	// LastUpdated <= at. ok is false when there is none.
	LatestBefore(ctx context.Context, entityID string, at time.Time) (s State, ok bool, err error)

	// LatestBeforeAll returns LatestBefore for every entity with history, or
	// for entityIDs when non-empty, sorted by entity id.
	LatestBeforeAll(ctx context.Context, at time.Time, entityIDs []string) ([]State, error)

	// Range returns records for entityID with start <= LastUpdated < end, oldest first.
	Range(ctx context.Context, entityID string, start, end time.Time) ([]State, error)

	// RangeAll is Range over every entity, or over entityIDs when non-empty,
	// ordered by entity id then age.
	RangeAll(ctx context.Context, start, end time.Time, entityIDs []string) ([]State, error)

	// LastN returns up to n committed records for entityID, newest first.
	LastN(ctx context.Context, entityID string, n int) ([]State, error)

	// EntityIDs lists every entity with at least one record, sorted.
	EntityIDs(ctx context.Context) ([]string, error)

	// StartRun persists a newly opened run.
	StartRun(ctx context.Context, run Run) error

	// EndRun closes the run with the given id.
	EndRun(ctx context.Context, runID string, endedAt time.Time) error

	// CloseOpenRuns marks every open run as closed incorrectly at endedAt
	// and returns how many were closed.
	CloseOpenRuns(ctx context.Context, endedAt time.Time) (int64, error)

	// Runs returns up to limit runs, newest first.
	Runs(ctx context.Context, limit int) ([]Run, error)
}

// toMicros converts t to the stored integer representation.
func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

// fromMicros converts a stored integer back to a UTC time.
func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
