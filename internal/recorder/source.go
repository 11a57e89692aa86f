package recorder

import "context"

// Logger defines the logging interface used by the recorder.
// This allows the recorder to work with any logger implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventHandler receives state-change events on the producer's goroutine.
type EventHandler func(ctx context.Context, ev Event) error

// EventSource is the event-bus side of the intake boundary.
//
// Subscribe registers handler for every state change the source observes.
// Handlers may be called concurrently from several goroutines.
type EventSource interface {
	Subscribe(ctx context.Context, handler EventHandler) error
	Unsubscribe() error
}

// CommitObserver is notified after each record is durably committed.
// Observers run on the Writer goroutine, in commit order, and must not block
// for long.
type CommitObserver interface {
	OnCommit(s State)
}

// CommitObserverFunc adapts a function to CommitObserver.
type CommitObserverFunc func(s State)

// OnCommit calls f(s).
func (f CommitObserverFunc) OnCommit(s State) {
	f(s)
}
