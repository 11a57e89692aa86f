package recorder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Writer defaults.
const (
	// DefaultQueueSize bounds the write queue when no size is configured.
	DefaultQueueSize = 1000

	// DefaultCommitTimeout bounds a single Insert when none is configured.
	DefaultCommitTimeout = 5 * time.Second
)

// queueItem is either a record to commit or a drain-barrier sentinel.
type queueItem struct {
	state State

	// barrier is closed by the Writer when it reaches this item.
	barrier chan struct{}
}

// WriterStats holds write-path counters.
type WriterStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Committed uint64 `json:"committed"`
	Dropped   uint64 `json:"dropped"`
}

// Writer is the single consumer of the write queue. It commits records to
// the Store strictly in enqueue order, one Insert per record.
//
// A failed commit is logged and the record dropped; the Writer never stops
// because of a store error.
//
// Thread Safety: Enqueue, BlockTillDone and Stats are safe for concurrent
// use. Store.Insert is only ever called from the Writer goroutine.
type Writer struct {
	store         Store
	queue         chan queueItem
	commitTimeout time.Duration
	logger        Logger

	obsMu     sync.RWMutex
	observers []CommitObserver

	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once

	// sendMu is held for reading by Enqueue and for writing when the send
	// side is sealed, so no record can land after the final drain.
	sendMu sync.RWMutex
	sealed bool

	quit     chan struct{}
	done     chan struct{}

	enqueued  atomic.Uint64
	committed atomic.Uint64
	dropped   atomic.Uint64
}

// NewWriter creates a writer with a bounded queue.
//
// Parameters:
//   - store: Destination for committed records
//   - queueSize: Queue capacity; Enqueue blocks when it is full (<= 0 uses DefaultQueueSize)
//   - commitTimeout: Timeout for each Insert (<= 0 uses DefaultCommitTimeout)
//
// Returns:
//   - *Writer: A writer that must be started with Start
func NewWriter(store Store, queueSize int, commitTimeout time.Duration) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if commitTimeout <= 0 {
		commitTimeout = DefaultCommitTimeout
	}
	return &Writer{
		store:         store,
		queue:         make(chan queueItem, queueSize),
		commitTimeout: commitTimeout,
		logger:        noopLogger{},
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetLogger sets the logger for the writer. Call before Start.
func (w *Writer) SetLogger(logger Logger) {
	w.logger = logger
}

// AddObserver registers o to be notified after every successful commit.
func (w *Writer) AddObserver(o CommitObserver) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	w.observers = append(w.observers, o)
}

// Start launches the writer goroutine.
func (w *Writer) Start() error {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	select {
	case <-w.quit:
		return ErrStopped
	default:
	}

	w.started = true
	go w.run()
	return nil
}

// Enqueue appends s to the write queue, blocking while the queue is full.
// A free slot is taken even when ctx is already cancelled; ctx only bounds
// the wait for space.
//
// Returns:
//   - error: ErrStopped once Stop has been called, or ctx.Err() if ctx is
//     cancelled while waiting for space
func (w *Writer) Enqueue(ctx context.Context, s State) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()

	if w.sealed {
		return ErrStopped
	}
	select {
	case <-w.quit:
		return ErrStopped
	default:
	}

	item := queueItem{state: s}
	select {
	case w.queue <- item:
		w.enqueued.Add(1)
		return nil
	default:
	}

	select {
	case w.queue <- item:
		w.enqueued.Add(1)
		return nil
	case <-w.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// seal rejects further Enqueue calls and waits for in-flight ones to
// return.
func (w *Writer) seal() {
	w.sendMu.Lock()
	w.sealed = true
	w.sendMu.Unlock()
}

// BlockTillDone waits until every record enqueued before the call has been
// committed or dropped. It returns immediately when the queue is empty and
// nothing is in flight, and returns nil once the writer has stopped.
//
// Returns:
//   - error: ErrNotStarted before Start, or ctx.Err() on cancellation
func (w *Writer) BlockTillDone(ctx context.Context) error {
	w.startMu.Lock()
	started := w.started
	w.startMu.Unlock()
	if !started {
		return ErrNotStarted
	}

	barrier := make(chan struct{})
	select {
	case w.queue <- queueItem{barrier: barrier}:
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the writer goroutine after committing whatever is still queued.
// Stop is idempotent.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})

	w.startMu.Lock()
	started := w.started
	w.startMu.Unlock()
	if started {
		<-w.done
		return
	}
	w.seal()
}

// Stats returns a snapshot of the write-path counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Enqueued:  w.enqueued.Load(),
		Committed: w.committed.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// run is the writer loop. The queue channel is never closed; quit seals the
// send side and ends the loop after a final non-blocking drain.
func (w *Writer) run() {
	defer close(w.done)

	for {
		select {
		case item := <-w.queue:
			w.process(item)
		case <-w.quit:
			w.seal()
			w.drain()
			return
		}
	}
}

// drain processes items left in the queue when quit fires.
func (w *Writer) drain() {
	for {
		select {
		case item := <-w.queue:
			w.process(item)
		default:
			return
		}
	}
}

func (w *Writer) process(item queueItem) {
	if item.barrier != nil {
		close(item.barrier)
		return
	}

	s := item.state
	if err := w.commit(&s); err != nil {
		w.dropped.Add(1)
		w.logger.Error("failed to commit state record",
			"entity_id", s.EntityID,
			"last_updated", s.LastUpdated,
			"error", err,
		)
		return
	}

	w.committed.Add(1)
	w.notify(s)
}

// commit inserts s with its own timeout. Panics are converted to errors.
func (w *Writer) commit(s *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during insert: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.commitTimeout)
	defer cancel()

	return w.store.Insert(ctx, s)
}

// notify calls every observer with s. A panicking observer is logged and
// skipped.
func (w *Writer) notify(s State) {
	w.obsMu.RLock()
	observers := w.observers
	w.obsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("commit observer panicked",
						"entity_id", s.EntityID,
						"panic", r,
					)
				}
			}()
			o.OnCommit(s.Clone())
		}()
	}
}
