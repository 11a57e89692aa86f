package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// enqueuer is the write-path side of Intake, satisfied by *Writer.
type enqueuer interface {
	Enqueue(ctx context.Context, s State) error
}

// Intake converts state-change events into State records and hands them to
// the write queue. It owns the last-known-state cache.
//
// Thread Safety: All methods are safe for concurrent use. A single mutex
// covers the cache update and the enqueue, so queue order always matches
// cache order for every entity.
type Intake struct {
	mu     sync.Mutex
	cache  map[string]State
	queue  enqueuer
	closed bool
	logger Logger
}

// NewIntake creates an intake feeding queue.
func NewIntake(queue enqueuer) *Intake {
	return &Intake{
		cache:  make(map[string]State),
		queue:  queue,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the intake.
func (in *Intake) SetLogger(logger Logger) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.logger = logger
}

// HandleEvent builds a State record from ev and enqueues it.
//
// last_changed is carried over from the cached state when the state value
// is unchanged. last_updated never moves backwards for an entity: an event
// stamped before the cached last_updated is recorded at the cached time.
//
// Parameters:
//   - ctx: Bounds the wait when the write queue is full
//   - ev: The state-change event
//
// Returns:
//   - error: ErrInvalidEvent for malformed events, ErrStopped after Close,
//     or ctx.Err() if the queue stayed full until cancellation
func (in *Intake) HandleEvent(ctx context.Context, ev Event) error {
	s, err := in.validate(ev)
	if err != nil {
		in.logger.Warn("rejecting malformed state event",
			"entity_id", ev.EntityID,
			"error", err,
		)
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		in.logger.Warn("state event after intake closed", "entity_id", s.EntityID)
		return ErrStopped
	}

	prev, known := in.cache[s.EntityID]
	if known {
		if s.LastUpdated.Before(prev.LastUpdated) {
			s.LastUpdated = prev.LastUpdated
		}
		if s.State == prev.State {
			s.LastChanged = prev.LastChanged
		}
	}
	if s.LastChanged.IsZero() {
		s.LastChanged = s.LastUpdated
	}

	if err := in.queue.Enqueue(ctx, s); err != nil {
		if errors.Is(err, ErrStopped) {
			in.logger.Warn("state event after writer stopped", "entity_id", s.EntityID)
		}
		return err
	}

	in.cache[s.EntityID] = s
	return nil
}

// validate checks ev and returns the record it describes with LastChanged
// left zero.
func (in *Intake) validate(ev Event) (State, error) {
	domain, _, ok := SplitEntityID(ev.EntityID)
	if !ok {
		return State{}, fmt.Errorf("%w: entity_id %q is not domain.object_id", ErrInvalidEvent, ev.EntityID)
	}
	if ev.Domain != "" && ev.Domain != domain {
		return State{}, fmt.Errorf("%w: domain %q does not match entity_id %q", ErrInvalidEvent, ev.Domain, ev.EntityID)
	}
	if ev.Timestamp.IsZero() {
		return State{}, fmt.Errorf("%w: missing timestamp for %q", ErrInvalidEvent, ev.EntityID)
	}

	return State{
		EntityID:    ev.EntityID,
		Domain:      domain,
		State:       ev.State,
		Attributes:  ev.Attributes.Clone(),
		LastUpdated: normalizeTime(ev.Timestamp),
	}, nil
}

// LiveState returns the last-known state for entityID, which may not be
// committed yet.
func (in *Intake) LiveState(entityID string) (State, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	s, ok := in.cache[entityID]
	if !ok {
		return State{}, false
	}
	return s.Clone(), true
}

// Seed primes the cache with previously committed states. Entries already
// in the cache are kept.
func (in *Intake) Seed(states []State) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, s := range states {
		if _, exists := in.cache[s.EntityID]; exists {
			continue
		}
		in.cache[s.EntityID] = s.Clone()
	}
}

// Close rejects all further events with ErrStopped.
func (in *Intake) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
}
