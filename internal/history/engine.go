package history

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
)

// DefaultLastN is the last-N length used when a caller passes n <= 0.
const DefaultLastN = 5

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Reader is the read side of recorder.Store.
type Reader interface {
	LatestBefore(ctx context.Context, entityID string, at time.Time) (recorder.State, bool, error)
	LatestBeforeAll(ctx context.Context, at time.Time, entityIDs []string) ([]recorder.State, error)
	Range(ctx context.Context, entityID string, start, end time.Time) ([]recorder.State, error)
	RangeAll(ctx context.Context, start, end time.Time, entityIDs []string) ([]recorder.State, error)
	LastN(ctx context.Context, entityID string, n int) ([]recorder.State, error)
	EntityIDs(ctx context.Context) ([]string, error)
}

// Options configures an Engine.
type Options struct {
	// AttributeSignificantDomains overrides DefaultAttributeSignificantDomains when non-nil.
	AttributeSignificantDomains []string

	// DefaultLastN overrides DefaultLastN when > 0.
	DefaultLastN int
}

// Engine answers point-in-time and range questions about recorded history.
//
// Every method is read-only and sees committed records only. Store errors
// are logged and reported as absence: a failed lookup looks the same as an
// entity with no history.
type Engine struct {
	reader     Reader
	classifier *Classifier
	lastN      int
	logger     Logger
}

// NewEngine creates a query engine over reader.
func NewEngine(reader Reader, opts Options) *Engine {
	domains := opts.AttributeSignificantDomains
	if domains == nil {
		domains = DefaultAttributeSignificantDomains
	}
	lastN := opts.DefaultLastN
	if lastN <= 0 {
		lastN = DefaultLastN
	}
	return &Engine{
		reader:     reader,
		classifier: NewClassifier(domains),
		lastN:      lastN,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Classifier returns the significance classifier in use.
func (e *Engine) Classifier() *Classifier {
	return e.classifier
}

// GetState returns the record for entityID with the greatest last_updated
// at or before at.
func (e *Engine) GetState(ctx context.Context, at time.Time, entityID string) (recorder.State, bool) {
	s, ok, err := e.reader.LatestBefore(ctx, entityID, at)
	if err != nil {
		e.logger.Error("history lookup failed",
			"op", "get_state",
			"entity_id", entityID,
			"error", err,
		)
		return recorder.State{}, false
	}
	return s, ok
}

// GetStates returns one record per entity as of at, sorted by entity id.
// With no entityIDs every entity is considered. Entities without history at
// or before at are omitted.
func (e *Engine) GetStates(ctx context.Context, at time.Time, entityIDs ...string) []recorder.State {
	states, err := e.reader.LatestBeforeAll(ctx, at, entityIDs)
	if err != nil {
		e.logger.Error("history lookup failed",
			"op", "get_states",
			"entities", len(entityIDs),
			"error", err,
		)
		return []recorder.State{}
	}
	return states
}

// StateChangesDuringPeriod returns every record with start <= last_updated < end,
// grouped by entity and in chronological order. An empty entityID selects
// all entities.
func (e *Engine) StateChangesDuringPeriod(ctx context.Context, start, end time.Time, entityID string) map[string][]recorder.State {
	var (
		records []recorder.State
		err     error
	)
	if entityID != "" {
		records, err = e.reader.Range(ctx, entityID, start, end)
	} else {
		records, err = e.reader.RangeAll(ctx, start, end, nil)
	}
	if err != nil {
		e.logger.Error("history lookup failed",
			"op", "state_changes_during_period",
			"entity_id", entityID,
			"error", err,
		)
		return map[string][]recorder.State{}
	}
	return groupByEntity(records)
}

// LastNStates returns up to n committed records for entityID, newest first.
// n <= 0 uses the configured default.
func (e *Engine) LastNStates(ctx context.Context, entityID string, n int) []recorder.State {
	if n <= 0 {
		n = e.lastN
	}
	states, err := e.reader.LastN(ctx, entityID, n)
	if err != nil {
		e.logger.Error("history lookup failed",
			"op", "last_n_states",
			"entity_id", entityID,
			"error", err,
		)
		return []recorder.State{}
	}
	return states
}

// GetSignificantStates returns the significant records in [start, end) per
// entity. Entities whose filtered history is empty are omitted.
func (e *Engine) GetSignificantStates(ctx context.Context, start, end time.Time, entityIDs ...string) map[string][]recorder.State {
	records, err := e.reader.RangeAll(ctx, start, end, entityIDs)
	if err != nil {
		e.logger.Error("history lookup failed",
			"op", "get_significant_states",
			"entities", len(entityIDs),
			"error", err,
		)
		return map[string][]recorder.State{}
	}
	return groupByEntity(e.classifier.Filter(records))
}

// Entities lists every entity with recorded history.
func (e *Engine) Entities(ctx context.Context) []string {
	ids, err := e.reader.EntityIDs(ctx)
	if err != nil {
		e.logger.Error("history lookup failed", "op", "entities", "error", err)
		return []string{}
	}
	return ids
}

// groupByEntity splits records, already ordered by entity then time, into
// per-entity slices.
func groupByEntity(records []recorder.State) map[string][]recorder.State {
	out := make(map[string][]recorder.State)
	for _, s := range records {
		out[s.EntityID] = append(out[s.EntityID], s)
	}
	return out
}
