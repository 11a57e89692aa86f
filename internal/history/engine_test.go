package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
	_ "github.com/nerrad567/gray-logic-recorder/migrations" // registers the schema
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testHistory wires a running recorder and an engine over one SQLite file.
type testHistory struct {
	rec    *recorder.Recorder
	engine *Engine
}

func newTestHistory(t *testing.T) *testHistory {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
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

	store := recorder.NewSQLiteStore(db.DB)
	rec := recorder.New(store, recorder.Options{Clock: func() time.Time { return t0.Add(-time.Hour) }})
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("recorder.Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = rec.Stop(context.Background())
	})

	return &testHistory{rec: rec, engine: NewEngine(store, Options{})}
}

// record sends one event and waits for it to commit.
func (h *testHistory) record(t *testing.T, entityID, state string, attrs recorder.Attributes, at time.Time) {
	t.Helper()

	ctx := context.Background()
	ev := recorder.Event{EntityID: entityID, State: state, Attributes: attrs, Timestamp: at}
	if err := h.rec.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("HandleEvent(%s=%s) error = %v", entityID, state, err)
	}
	if err := h.rec.BlockTillDone(ctx); err != nil {
		t.Fatalf("BlockTillDone() error = %v", err)
	}
}

func statesOf(records []recorder.State) []string {
	out := make([]string, len(records))
	for i, s := range records {
		out[i] = s.State
	}
	return out
}

func entitiesOf(records []recorder.State) []string {
	out := make([]string, len(records))
	for i, s := range records {
		out[i] = s.EntityID
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEngine_LastNStates(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		h.record(t, "input_text.test", fmt.Sprintf("State %d", i), nil, t0.Add(time.Duration(i)*time.Second))
	}

	got := h.engine.LastNStates(ctx, "input_text.test", 5)
	want := []string{"State 6", "State 5", "State 4", "State 3", "State 2"}
	if !sameStrings(statesOf(got), want) {
		t.Errorf("LastNStates(5) = %v, want %v", statesOf(got), want)
	}

	if got := h.engine.LastNStates(ctx, "input_text.test", 0); len(got) != DefaultLastN {
		t.Errorf("LastNStates(0) returned %d records, want default %d", len(got), DefaultLastN)
	}
	if got := h.engine.LastNStates(ctx, "input_text.test", 50); len(got) != 7 {
		t.Errorf("LastNStates(50) returned %d records, want 7", len(got))
	}
	if got := h.engine.LastNStates(ctx, "input_text.unknown", 5); got == nil || len(got) != 0 {
		t.Errorf("LastNStates(unknown) = %#v, want empty slice", got)
	}
}

func TestEngine_GetStates(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	entities := make([]string, 5)
	for i := range entities {
		entities[i] = fmt.Sprintf("test.point_in_time_%d", i)
	}
	t1 := t0.Add(time.Second)

	for i, id := range entities {
		h.record(t, id, fmt.Sprintf("State %d", i), recorder.Attributes{"batch": 1}, t0)
	}
	for i, id := range entities {
		h.record(t, id, fmt.Sprintf("State %d", i), recorder.Attributes{"batch": 2}, t1)
	}

	batchOf := func(records []recorder.State) []int {
		out := make([]int, len(records))
		for i, s := range records {
			n, _ := s.Attributes["batch"].(float64)
			out[i] = int(n)
		}
		return out
	}

	tests := []struct {
		name      string
		at        time.Time
		wantBatch int
		wantCount int
	}{
		{"before any history", t0.Add(-time.Second), 0, 0},
		{"at first batch", t0, 1, 5},
		{"just before second batch", t1.Add(-time.Microsecond), 1, 5},
		{"at second batch is inclusive", t1, 2, 5},
		{"after second batch", t1.Add(time.Second), 2, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.engine.GetStates(ctx, tt.at)
			if len(got) != tt.wantCount {
				t.Fatalf("GetStates() returned %d records, want %d", len(got), tt.wantCount)
			}
			if !sameStrings(entitiesOf(got), entities[:tt.wantCount]) {
				t.Errorf("GetStates() entities = %v, want sorted %v", entitiesOf(got), entities)
			}
			for i, b := range batchOf(got) {
				if b != tt.wantBatch {
					t.Errorf("record %d from batch %d, want %d", i, b, tt.wantBatch)
				}
			}
		})
	}

	t.Run("restricted to entities", func(t *testing.T) {
		got := h.engine.GetStates(ctx, t1, entities[3], entities[1], "test.unknown")
		if !sameStrings(entitiesOf(got), []string{entities[1], entities[3]}) {
			t.Errorf("GetStates(subset) entities = %v", entitiesOf(got))
		}
	})
}

func TestEngine_GetState(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	h.record(t, "light.kitchen", "on", nil, t0)
	h.record(t, "light.kitchen", "off", nil, t0.Add(time.Minute))

	if s, ok := h.engine.GetState(ctx, t0.Add(30*time.Second), "light.kitchen"); !ok || s.State != "on" {
		t.Errorf("GetState(+30s) = (%q, %v), want on", s.State, ok)
	}
	if s, ok := h.engine.GetState(ctx, t0.Add(time.Minute), "light.kitchen"); !ok || s.State != "off" {
		t.Errorf("GetState(+1m) = (%q, %v), want off", s.State, ok)
	}
	if _, ok := h.engine.GetState(ctx, t0.Add(-time.Second), "light.kitchen"); ok {
		t.Error("GetState() before history found a record")
	}
	if _, ok := h.engine.GetState(ctx, t0, "light.unknown"); ok {
		t.Error("GetState() for unknown entity found a record")
	}
}

func TestEngine_StateChangesDuringPeriod(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	start := t0.Add(time.Second)
	end := t0.Add(4 * time.Second)

	h.record(t, "media_player.test", "idle", nil, t0)
	for i := 1; i <= 4; i++ {
		h.record(t, "media_player.test", fmt.Sprintf("State %d", i), nil, t0.Add(time.Duration(i)*time.Second))
	}
	h.record(t, "media_player.other", "playing", nil, t0.Add(2*time.Second))

	t.Run("single entity", func(t *testing.T) {
		got := h.engine.StateChangesDuringPeriod(ctx, start, end, "media_player.test")
		if len(got) != 1 {
			t.Fatalf("StateChangesDuringPeriod() keys = %d, want 1", len(got))
		}
		want := []string{"State 1", "State 2", "State 3"}
		if !sameStrings(statesOf(got["media_player.test"]), want) {
			t.Errorf("records = %v, want %v", statesOf(got["media_player.test"]), want)
		}
	})

	t.Run("all entities", func(t *testing.T) {
		got := h.engine.StateChangesDuringPeriod(ctx, start, end, "")
		if len(got) != 2 {
			t.Fatalf("StateChangesDuringPeriod() keys = %d, want 2", len(got))
		}
		if !sameStrings(statesOf(got["media_player.other"]), []string{"playing"}) {
			t.Errorf("other = %v, want [playing]", statesOf(got["media_player.other"]))
		}
	})

	t.Run("unknown entity", func(t *testing.T) {
		got := h.engine.StateChangesDuringPeriod(ctx, start, end, "media_player.unknown")
		if got == nil || len(got) != 0 {
			t.Errorf("StateChangesDuringPeriod(unknown) = %v, want empty map", got)
		}
	})
}

func TestEngine_GetSignificantStates(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	step := func(i int) time.Time { return t0.Add(time.Duration(i) * time.Second) }

	h.record(t, "media_player.test", "idle", nil, step(1))
	h.record(t, "media_player.test", "YouTube", recorder.Attributes{"media_title": "first"}, step(2))
	h.record(t, "media_player.test", "YouTube", recorder.Attributes{"media_title": "second"}, step(3))
	h.record(t, "media_player.test", "Netflix", nil, step(4))

	h.record(t, "thermostat.test", "20", recorder.Attributes{"current_temperature": 19.5}, step(1))
	h.record(t, "thermostat.test", "21", recorder.Attributes{"current_temperature": 19.5}, step(2))
	h.record(t, "thermostat.test", "21", recorder.Attributes{"current_temperature": 20.5}, step(3))

	h.record(t, "light.quiet", "on", nil, t0.Add(-time.Hour))

	got := h.engine.GetSignificantStates(ctx, t0, step(10))

	if len(got) != 2 {
		t.Fatalf("GetSignificantStates() keys = %d, want 2 (light.quiet outside window)", len(got))
	}
	if mp := statesOf(got["media_player.test"]); !sameStrings(mp, []string{"idle", "YouTube", "Netflix"}) {
		t.Errorf("media_player = %v, want [idle YouTube Netflix]", mp)
	}
	if th := got["thermostat.test"]; len(th) != 3 {
		t.Errorf("thermostat kept %d records, want 3", len(th))
	}
	if title := got["media_player.test"][1].Attributes["media_title"]; title != "first" {
		t.Errorf("kept YouTube record title = %v, want first", title)
	}

	only := h.engine.GetSignificantStates(ctx, t0, step(10), "thermostat.test")
	if len(only) != 1 || len(only["thermostat.test"]) != 3 {
		t.Errorf("GetSignificantStates(thermostat) = %v, want only thermostat with 3 records", only)
	}
}

func TestEngine_Entities(t *testing.T) {
	h := newTestHistory(t)

	h.record(t, "switch.b", "on", nil, t0)
	h.record(t, "switch.a", "on", nil, t0)

	if got := h.engine.Entities(context.Background()); !sameStrings(got, []string{"switch.a", "switch.b"}) {
		t.Errorf("Entities() = %v, want [switch.a switch.b]", got)
	}
}

// brokenReader fails every lookup.
type brokenReader struct{}

var errBroken = errors.New("disk I/O error")

func (brokenReader) LatestBefore(context.Context, string, time.Time) (recorder.State, bool, error) {
	return recorder.State{}, false, errBroken
}

func (brokenReader) LatestBeforeAll(context.Context, time.Time, []string) ([]recorder.State, error) {
	return nil, errBroken
}

func (brokenReader) Range(context.Context, string, time.Time, time.Time) ([]recorder.State, error) {
	return nil, errBroken
}

func (brokenReader) RangeAll(context.Context, time.Time, time.Time, []string) ([]recorder.State, error) {
	return nil, errBroken
}

func (brokenReader) LastN(context.Context, string, int) ([]recorder.State, error) {
	return nil, errBroken
}

func (brokenReader) EntityIDs(context.Context) ([]string, error) {
	return nil, errBroken
}

// countingLogger counts Error calls.
type countingLogger struct {
	noopLogger
	errors int
}

func (l *countingLogger) Error(string, ...any) { l.errors++ }

func TestEngine_StoreErrorsBecomeAbsence(t *testing.T) {
	e := NewEngine(brokenReader{}, Options{})
	log := &countingLogger{}
	e.SetLogger(log)
	ctx := context.Background()

	if _, ok := e.GetState(ctx, t0, "light.a"); ok {
		t.Error("GetState() reported a record on store error")
	}
	if got := e.GetStates(ctx, t0); got == nil || len(got) != 0 {
		t.Errorf("GetStates() = %#v, want empty slice", got)
	}
	if got := e.StateChangesDuringPeriod(ctx, t0, t0.Add(time.Hour), ""); got == nil || len(got) != 0 {
		t.Errorf("StateChangesDuringPeriod() = %#v, want empty map", got)
	}
	if got := e.LastNStates(ctx, "light.a", 5); got == nil || len(got) != 0 {
		t.Errorf("LastNStates() = %#v, want empty slice", got)
	}
	if got := e.GetSignificantStates(ctx, t0, t0.Add(time.Hour)); got == nil || len(got) != 0 {
		t.Errorf("GetSignificantStates() = %#v, want empty map", got)
	}
	if got := e.Entities(ctx); got == nil || len(got) != 0 {
		t.Errorf("Entities() = %#v, want empty slice", got)
	}
	if log.errors != 6 {
		t.Errorf("error logs = %d, want 6", log.errors)
	}
}

func TestNewEngine_Options(t *testing.T) {
	e := NewEngine(brokenReader{}, Options{AttributeSignificantDomains: []string{"sensor"}, DefaultLastN: 9})

	if e.lastN != 9 {
		t.Errorf("lastN = %d, want 9", e.lastN)
	}
	if e.Classifier().Classify("sensor") != AttributeSignificant {
		t.Error("sensor not attribute-significant with override")
	}
	if e.Classifier().Classify("thermostat") != StateOnly {
		t.Error("thermostat still attribute-significant after override")
	}
}
