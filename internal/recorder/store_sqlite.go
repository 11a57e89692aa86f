package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// defaultRunsLimit is used when Runs is called with limit <= 0.
const defaultRunsLimit = 50

// stateColumns is the column list shared by every states query.
const stateColumns = "state_id, entity_id, domain, state, attributes, last_changed, last_updated"

// SQLiteStore implements Store on the states and recorder_runs tables.
//
// The schema is created by the embedded migrations. WAL mode is expected
// so reads do not wait on the writer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert appends a state record and sets s.ID.
func (st *SQLiteStore) Insert(ctx context.Context, s *State) error {
	attrs, err := marshalAttributes(s.Attributes)
	if err != nil {
		return err
	}

	result, err := st.db.ExecContext(ctx,
		`INSERT INTO states (entity_id, domain, state, attributes, last_changed, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.EntityID,
		s.Domain,
		s.State,
		attrs,
		toMicros(s.LastChanged),
		toMicros(s.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("inserting state: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading state id: %w", err)
	}
	s.ID = id
	return nil
}

// LatestBefore returns the newest record for entityID at or before at.
func (st *SQLiteStore) LatestBefore(ctx context.Context, entityID string, at time.Time) (State, bool, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE entity_id = ? AND last_updated <= ?
		 ORDER BY last_updated DESC, state_id DESC
		 LIMIT 1`,
		entityID,
		toMicros(at),
	)

	s, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return s, true, nil
}

// LatestBeforeAll returns one record per entity: the newest at or before at.
// Rows are ranked per entity by (last_updated, state_id), matching
// LatestBefore.
func (st *SQLiteStore) LatestBeforeAll(ctx context.Context, at time.Time, entityIDs []string) ([]State, error) {
	filter, args := entityFilter("entity_id", entityIDs)
	args = append([]any{toMicros(at)}, args...)

	return st.queryStates(ctx,
		`SELECT `+stateColumns+`
		 FROM (
			SELECT `+stateColumns+`,
				ROW_NUMBER() OVER (
					PARTITION BY entity_id
					ORDER BY last_updated DESC, state_id DESC
				) AS rn
			FROM states
			WHERE last_updated <= ?`+filter+`
		 )
		 WHERE rn = 1
		 ORDER BY entity_id`,
		args...,
	)
}

// Range returns records for one entity in [start, end), oldest first.
func (st *SQLiteStore) Range(ctx context.Context, entityID string, start, end time.Time) ([]State, error) {
	return st.queryStates(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE entity_id = ? AND last_updated >= ? AND last_updated < ?
		 ORDER BY last_updated, state_id`,
		entityID,
		toMicros(start),
		toMicros(end),
	)
}

// RangeAll returns records in [start, end) grouped by entity, oldest first.
func (st *SQLiteStore) RangeAll(ctx context.Context, start, end time.Time, entityIDs []string) ([]State, error) {
	filter, args := entityFilter("entity_id", entityIDs)
	args = append([]any{toMicros(start), toMicros(end)}, args...)

	return st.queryStates(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE last_updated >= ? AND last_updated < ?`+filter+`
		 ORDER BY entity_id, last_updated, state_id`,
		args...,
	)
}

// LastN returns up to n records for entityID, newest first.
func (st *SQLiteStore) LastN(ctx context.Context, entityID string, n int) ([]State, error) {
	if n <= 0 {
		return []State{}, nil
	}

	return st.queryStates(ctx,
		`SELECT `+stateColumns+`
		 FROM states
		 WHERE entity_id = ?
		 ORDER BY last_updated DESC, state_id DESC
		 LIMIT ?`,
		entityID,
		n,
	)
}

// EntityIDs lists every entity with recorded history.
func (st *SQLiteStore) EntityIDs(ctx context.Context) ([]string, error) {
	rows, err := st.db.QueryContext(ctx, "SELECT DISTINCT entity_id FROM states ORDER BY entity_id")
	if err != nil {
		return nil, fmt.Errorf("querying entity ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity ids: %w", err)
	}
	return ids, nil
}

// StartRun inserts a new open run.
func (st *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	_, err := st.db.ExecContext(ctx,
		"INSERT INTO recorder_runs (run_id, started_at, closed_incorrect) VALUES (?, ?, 0)",
		run.ID,
		toMicros(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting recorder run: %w", err)
	}
	return nil
}

// EndRun sets the end time of a run.
func (st *SQLiteStore) EndRun(ctx context.Context, runID string, endedAt time.Time) error {
	result, err := st.db.ExecContext(ctx,
		"UPDATE recorder_runs SET ended_at = ? WHERE run_id = ?",
		toMicros(endedAt),
		runID,
	)
	if err != nil {
		return fmt.Errorf("ending recorder run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CloseOpenRuns closes runs left open by a process that did not stop cleanly.
func (st *SQLiteStore) CloseOpenRuns(ctx context.Context, endedAt time.Time) (int64, error) {
	result, err := st.db.ExecContext(ctx,
		"UPDATE recorder_runs SET ended_at = ?, closed_incorrect = 1 WHERE ended_at IS NULL",
		toMicros(endedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("closing open recorder runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}

// Runs returns up to limit runs, newest first.
func (st *SQLiteStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}

	rows, err := st.db.QueryContext(ctx,
		`SELECT run_id, started_at, ended_at, closed_incorrect
		 FROM recorder_runs
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recorder runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			run       Run
			startedAt int64
			endedAt   sql.NullInt64
			incorrect int64
		)
		if err := rows.Scan(&run.ID, &startedAt, &endedAt, &incorrect); err != nil {
			return nil, fmt.Errorf("scanning recorder run: %w", err)
		}
		run.StartedAt = fromMicros(startedAt)
		if endedAt.Valid {
			run.EndedAt = fromMicros(endedAt.Int64)
		}
		run.ClosedIncorrect = incorrect != 0
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recorder runs: %w", err)
	}
	return runs, nil
}

// queryStates runs a states query and scans every row.
func (st *SQLiteStore) queryStates(ctx context.Context, query string, args ...any) ([]State, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	states := []State{}
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating states: %w", err)
	}
	return states, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanState scans one row selected with stateColumns.
func scanState(row rowScanner) (State, error) {
	var (
		s           State
		attrs       string
		lastChanged int64
		lastUpdated int64
	)

	err := row.Scan(&s.ID, &s.EntityID, &s.Domain, &s.State, &attrs, &lastChanged, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, err
	}
	if err != nil {
		return State{}, fmt.Errorf("scanning state: %w", err)
	}

	s.Attributes, err = unmarshalAttributes([]byte(attrs))
	if err != nil {
		return State{}, err
	}
	s.LastChanged = fromMicros(lastChanged)
	s.LastUpdated = fromMicros(lastUpdated)
	return s, nil
}

// entityFilter builds " AND column IN (?, ...)" for a non-empty id list.
func entityFilter(column string, entityIDs []string) (string, []any) {
	if len(entityIDs) == 0 {
		return "", nil
	}

	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(entityIDs)), ", ")
	return " AND " + column + " IN (" + placeholders + ")", args
}

// marshalAttributes encodes attributes for storage. nil encodes as {}.
func marshalAttributes(attrs Attributes) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshalling attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalAttributes decodes stored attributes. Empty input yields an empty map.
func unmarshalAttributes(data []byte) (Attributes, error) {
	attrs := Attributes{}
	if len(data) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("unmarshalling attributes: %w", err)
	}
	return attrs, nil
}
