package recorder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-recorder/migrations" // registers the schema
)

// t0 is the base timestamp used across tests.
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// openTestStore returns a SQLiteStore on a migrated temp database.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "recorder.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

// insertState commits a record directly, bypassing the write path.
func insertState(t *testing.T, st Store, entityID, state string, at time.Time, attrs Attributes) State {
	t.Helper()

	domain, _, ok := SplitEntityID(entityID)
	if !ok {
		t.Fatalf("bad entity id %q", entityID)
	}
	s := State{
		EntityID:    entityID,
		Domain:      domain,
		State:       state,
		Attributes:  attrs,
		LastChanged: at,
		LastUpdated: at,
	}
	if err := st.Insert(context.Background(), &s); err != nil {
		t.Fatalf("Insert(%s) error = %v", entityID, err)
	}
	return s
}

// fakeStore is a Store whose Insert can be made to fail, panic or block.
// Only Insert is implemented; other methods panic via the nil embedded Store.
type fakeStore struct {
	Store

	mu       sync.Mutex
	inserted []State
	nextID   int64

	failEntity  string
	panicEntity string

	// entered receives once per Insert call when non-nil.
	entered chan string
	// release gates Insert when non-nil.
	release chan struct{}
}

func (f *fakeStore) Insert(ctx context.Context, s *State) error {
	if f.entered != nil {
		f.entered <- s.EntityID
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.EntityID == f.panicEntity {
		panic("boom")
	}
	if s.EntityID == f.failEntity {
		return fmt.Errorf("disk full")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	f.inserted = append(f.inserted, *s)
	return nil
}

func (f *fakeStore) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.inserted...)
}

// logEntry is one captured log call.
type logEntry struct {
	level string
	msg   string
}

// captureLogger records log calls for assertions.
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}
