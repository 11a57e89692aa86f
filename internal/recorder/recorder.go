package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Recorder.
type Options struct {
	// QueueSize bounds the write queue (<= 0 uses DefaultQueueSize).
	QueueSize int

	// CommitTimeout bounds each Insert (<= 0 uses DefaultCommitTimeout).
	CommitTimeout time.Duration

	// SeedCache primes the last-known-state cache from the store on Start,
	// so last_changed carries over across restarts.
	SeedCache bool

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// seedHorizon bounds the seed query so records stamped ahead of the local
// clock still seed the cache.
var seedHorizon = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleStopped
)

// Recorder owns the write path: Intake, the write queue and the Writer.
// It also records one Run per Start/Stop cycle.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	store  Store
	intake *Intake
	writer *Writer
	clock  func() time.Time
	seed   bool
	logger Logger

	mu      sync.Mutex
	state   lifecycle
	runID   string
	sources []EventSource
}

// New creates a recorder writing to store. Call Start before sending events.
func New(store Store, opts Options) *Recorder {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	w := NewWriter(store, opts.QueueSize, opts.CommitTimeout)
	return &Recorder{
		store:  store,
		intake: NewIntake(w),
		writer: w,
		clock:  clock,
		seed:   opts.SeedCache,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the recorder, its intake and its writer.
// Call before Start.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
	r.intake.SetLogger(logger)
	r.writer.SetLogger(logger)
}

// AddObserver registers o to be notified after every committed record.
func (r *Recorder) AddObserver(o CommitObserver) {
	r.writer.AddObserver(o)
}

// Start prepares the store and launches the writer.
//
// Runs left open by a process that never stopped are closed and flagged
// closed_incorrect. When seeding is enabled the intake cache is primed with
// the newest committed state of every entity, including records stamped
// after the current clock. A new run is then opened.
//
// Parameters:
//   - ctx: Context for the setup queries
//
// Returns:
//   - error: ErrAlreadyStarted, ErrStopped, or a wrapped store error
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case lifecycleRunning:
		return ErrAlreadyStarted
	case lifecycleStopped:
		return ErrStopped
	}

	now := normalizeTime(r.clock())

	closed, err := r.store.CloseOpenRuns(ctx, now)
	if err != nil {
		return fmt.Errorf("closing stale recorder runs: %w", err)
	}
	if closed > 0 {
		r.logger.Warn("closed recorder runs left open by an unclean shutdown", "count", closed)
	}

	if r.seed {
		latest, err := r.store.LatestBeforeAll(ctx, seedHorizon, nil)
		if err != nil {
			return fmt.Errorf("seeding state cache: %w", err)
		}
		r.intake.Seed(latest)
		r.logger.Debug("seeded state cache", "entities", len(latest))
	}

	run := Run{ID: uuid.NewString(), StartedAt: now}
	if err := r.store.StartRun(ctx, run); err != nil {
		return fmt.Errorf("starting recorder run: %w", err)
	}

	if err := r.writer.Start(); err != nil {
		return fmt.Errorf("starting writer: %w", err)
	}

	r.runID = run.ID
	r.state = lifecycleRunning
	r.logger.Info("recorder started", "run_id", run.ID)
	return nil
}

// Attach subscribes the recorder to src. Sources are unsubscribed by Stop.
func (r *Recorder) Attach(ctx context.Context, src EventSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != lifecycleRunning {
		return ErrNotStarted
	}
	if err := src.Subscribe(ctx, r.HandleEvent); err != nil {
		return fmt.Errorf("subscribing to event source: %w", err)
	}
	r.sources = append(r.sources, src)
	return nil
}

// HandleEvent records one state-change event. See Intake.HandleEvent.
func (r *Recorder) HandleEvent(ctx context.Context, ev Event) error {
	return r.intake.HandleEvent(ctx, ev)
}

// LiveState returns the last-known, possibly uncommitted, state of entityID.
func (r *Recorder) LiveState(entityID string) (State, bool) {
	return r.intake.LiveState(entityID)
}

// BlockTillDone waits until every event accepted before the call is
// committed. It is the drain barrier used by tests and by Stop.
func (r *Recorder) BlockTillDone(ctx context.Context) error {
	return r.writer.BlockTillDone(ctx)
}

// Stop shuts the write path down in order: detach sources, close intake,
// drain the queue, stop the writer, end the run. Stop on a stopped
// recorder is a no-op.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case lifecycleNew:
		r.mu.Unlock()
		return ErrNotStarted
	case lifecycleStopped:
		r.mu.Unlock()
		return nil
	}
	r.state = lifecycleStopped
	sources := r.sources
	r.sources = nil
	runID := r.runID
	r.mu.Unlock()

	for _, src := range sources {
		if err := src.Unsubscribe(); err != nil {
			r.logger.Warn("failed to unsubscribe event source", "error", err)
		}
	}

	r.intake.Close()

	if err := r.writer.BlockTillDone(ctx); err != nil {
		r.logger.Warn("drain interrupted during shutdown", "error", err)
	}
	r.writer.Stop()

	stats := r.writer.Stats()
	if err := r.store.EndRun(ctx, runID, normalizeTime(r.clock())); err != nil {
		return fmt.Errorf("ending recorder run: %w", err)
	}

	r.logger.Info("recorder stopped",
		"run_id", runID,
		"enqueued", stats.Enqueued,
		"committed", stats.Committed,
		"dropped", stats.Dropped,
	)
	return nil
}

// Stats returns the writer counters.
func (r *Recorder) Stats() WriterStats {
	return r.writer.Stats()
}

// RunID returns the id of the current run, or "" before Start.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}
