package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL.
//
// The schema is created by postgres.Connect. Attributes are JSONB and
// timestamps BIGINT microseconds, matching SQLiteStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on a connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert appends a state record and sets s.ID.
func (st *PostgresStore) Insert(ctx context.Context, s *State) error {
	attrs, err := marshalAttributes(s.Attributes)
	if err != nil {
		return err
	}

	err = st.pool.QueryRow(ctx,
		`INSERT INTO states (entity_id, domain, state, attributes, last_changed, last_updated)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		 RETURNING state_id`,
		s.EntityID,
		s.Domain,
		s.State,
		attrs,
		toMicros(s.LastChanged),
		toMicros(s.LastUpdated),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("inserting state: %w", err)
	}
	return nil
}

// LatestBefore returns the newest record for entityID at or before at.
func (st *PostgresStore) LatestBefore(ctx context.Context, entityID string, at time.Time) (State, bool, error) {
	row := st.pool.QueryRow(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE entity_id = $1 AND last_updated <= $2
		 ORDER BY last_updated DESC, state_id DESC
		 LIMIT 1`,
		entityID,
		toMicros(at),
	)

	s, err := scanPgState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return s, true, nil
}

// LatestBeforeAll returns one record per entity: the newest at or before at.
func (st *PostgresStore) LatestBeforeAll(ctx context.Context, at time.Time, entityIDs []string) ([]State, error) {
	if len(entityIDs) == 0 {
		return st.queryStates(ctx,
			`SELECT DISTINCT ON (entity_id) `+stateColumns+`
			 FROM states
			 WHERE last_updated <= $1
			 ORDER BY entity_id, last_updated DESC, state_id DESC`,
			toMicros(at),
		)
	}

	return st.queryStates(ctx,
		`SELECT DISTINCT ON (entity_id) `+stateColumns+`
		 FROM states
		 WHERE last_updated <= $1 AND entity_id = ANY($2)
		 ORDER BY entity_id, last_updated DESC, state_id DESC`,
		toMicros(at),
		entityIDs,
	)
}

// Range returns records for one entity in [start, end), oldest first.
func (st *PostgresStore) Range(ctx context.Context, entityID string, start, end time.Time) ([]State, error) {
	return st.queryStates(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE entity_id = $1 AND last_updated >= $2 AND last_updated < $3
		 ORDER BY last_updated, state_id`,
		entityID,
		toMicros(start),
		toMicros(end),
	)
}

// RangeAll returns records in [start, end) grouped by entity, oldest first.
func (st *PostgresStore) RangeAll(ctx context.Context, start, end time.Time, entityIDs []string) ([]State, error) {
	if len(entityIDs) == 0 {
		return st.queryStates(ctx,
			`SELECT `+stateColumns+`
			 FROM states
			 WHERE last_updated >= $1 AND last_updated < $2
			 ORDER BY entity_id, last_updated, state_id`,
			toMicros(start),
			toMicros(end),
		)
	}

	return st.queryStates(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE last_updated >= $1 AND last_updated < $2 AND entity_id = ANY($3)
		 ORDER BY entity_id, last_updated, state_id`,
		toMicros(start),
		toMicros(end),
		entityIDs,
	)
}

// LastN returns up to n records for entityID, newest first.
func (st *PostgresStore) LastN(ctx context.Context, entityID string, n int) ([]State, error) {
	if n <= 0 {
		return []State{}, nil
	}

	return st.queryStates(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE entity_id = $1
		 ORDER BY last_updated DESC, state_id DESC
		 LIMIT $2`,
		entityID,
		n,
	)
}

// EntityIDs lists every entity with recorded history.
func (st *PostgresStore) EntityIDs(ctx context.Context) ([]string, error) {
	rows, err := st.pool.Query(ctx, "SELECT DISTINCT entity_id FROM states ORDER BY entity_id")
	if err != nil {
		return nil, fmt.Errorf("querying entity ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting entity ids: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// StartRun inserts a new open run.
func (st *PostgresStore) StartRun(ctx context.Context, run Run) error {
	_, err := st.pool.Exec(ctx,
		"INSERT INTO recorder_runs (run_id, started_at, closed_incorrect) VALUES ($1, $2, FALSE)",
		run.ID,
		toMicros(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting recorder run: %w", err)
	}
	return nil
}

// EndRun sets the end time of a run.
func (st *PostgresStore) EndRun(ctx context.Context, runID string, endedAt time.Time) error {
	tag, err := st.pool.Exec(ctx,
		"UPDATE recorder_runs SET ended_at = $1 WHERE run_id = $2",
		toMicros(endedAt),
		runID,
	)
	if err != nil {
		return fmt.Errorf("ending recorder run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CloseOpenRuns closes runs left open by a process that did not stop cleanly.
func (st *PostgresStore) CloseOpenRuns(ctx context.Context, endedAt time.Time) (int64, error) {
	tag, err := st.pool.Exec(ctx,
		"UPDATE recorder_runs SET ended_at = $1, closed_incorrect = TRUE WHERE ended_at IS NULL",
		toMicros(endedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("closing open recorder runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Runs returns up to limit runs, newest first.
func (st *PostgresStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}

	rows, err := st.pool.Query(ctx,
		`SELECT run_id, started_at, ended_at, closed_incorrect
		 FROM recorder_runs
		 ORDER BY started_at DESC, run_id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recorder runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var (
			run       Run
			startedAt int64
			endedAt   *int64
		)
		if err := row.Scan(&run.ID, &startedAt, &endedAt, &run.ClosedIncorrect); err != nil {
			return Run{}, err
		}
		run.StartedAt = fromMicros(startedAt)
		if endedAt != nil {
			run.EndedAt = fromMicros(*endedAt)
		}
		return run, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting recorder runs: %w", err)
	}
	if runs == nil {
		runs = []Run{}
	}
	return runs, nil
}

func (st *PostgresStore) queryStates(ctx context.Context, query string, args ...any) ([]State, error) {
	rows, err := st.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}

	states, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (State, error) {
		return scanPgState(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collecting states: %w", err)
	}
	if states == nil {
		states = []State{}
	}
	return states, nil
}

// scanPgState scans one row selected with stateColumns.
func scanPgState(row pgx.Row) (State, error) {
	var (
		s           State
		attrs       []byte
		lastChanged int64
		lastUpdated int64
	)

	err := row.Scan(&s.ID, &s.EntityID, &s.Domain, &s.State, &attrs, &lastChanged, &lastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, err
	}
	if err != nil {
		return State{}, fmt.Errorf("scanning state: %w", err)
	}

	s.Attributes, err = unmarshalAttributes(attrs)
	if err != nil {
		return State{}, err
	}
	s.LastChanged = fromMicros(lastChanged)
	s.LastUpdated = fromMicros(lastUpdated)
	return s, nil
}
