package influxdb

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/config"
)

func TestBuildStatePoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	attrs := map[string]any{
		"temperature":   21.5,
		"setpoint":      json.Number("20"),
		"count":         3,
		"hvac_action":   "heating",
		"window_open":   false,
		"friendly_name": "Lounge",
	}

	p := buildStatePoint("entity_states", "climate.lounge", "climate", "heat", attrs, ts)

	if p.Name() != "entity_states" {
		t.Errorf("Name() = %q, want entity_states", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", p.Time(), ts)
	}

	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["entity_id"] != "climate.lounge" || tags["domain"] != "climate" || len(tags) != 2 {
		t.Errorf("tags = %v", tags)
	}

	fields := make(map[string]any)
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	want := map[string]any{
		"state":            "heat",
		"attr_temperature": 21.5,
		"attr_setpoint":    20.0,
		"attr_count":       3.0,
	}
	if len(fields) != len(want) {
		t.Errorf("fields = %v, want %v", fields, want)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %v (%T), want %v", k, fields[k], fields[k], v)
		}
	}
}

func TestStateFields_Value(t *testing.T) {
	tests := []struct {
		state     string
		wantValue bool
		value     float64
	}{
		{"21.5", true, 21.5},
		{"-3", true, -3},
		{"on", false, 0},
		{"", false, 0},
		{"unavailable", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			fields := stateFields(tt.state, nil)
			if fields["state"] != tt.state {
				t.Errorf("state field = %v, want %q", fields["state"], tt.state)
			}
			v, ok := fields["value"]
			if ok != tt.wantValue {
				t.Fatalf("value present = %v, want %v", ok, tt.wantValue)
			}
			if ok && v != tt.value {
				t.Errorf("value = %v, want %v", v, tt.value)
			}
		})
	}
}

func TestNumericValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float64", 1.5, 1.5, true},
		{"float32", float32(2), 2, true},
		{"int", 4, 4, true},
		{"int64", int64(8), 8, true},
		{"json number", json.Number("16.25"), 16.25, true},
		{"bad json number", json.Number("x"), 0, false},
		{"numeric string", "3", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numericValue(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("numericValue(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestWriteEntityState_Disconnected(t *testing.T) {
	c := &Client{measurement: DefaultMeasurement}
	// A client that never connected drops writes instead of panicking.
	c.WriteEntityState("light.a", "light", "on", nil, time.Now())
	c.Flush()

	if got := c.Stats().Written; got != 0 {
		t.Errorf("Stats().Written = %d, want 0 for a dropped write", got)
	}
}

func TestMirrorOptions(t *testing.T) {
	tests := []struct {
		name            string
		cfg             config.InfluxDBConfig
		wantBatch       uint
		wantFlushMillis uint
		wantMeasurement string
	}{
		{
			name:            "defaults",
			cfg:             config.InfluxDBConfig{},
			wantBatch:       100,
			wantFlushMillis: 10000,
			wantMeasurement: DefaultMeasurement,
		},
		{
			name:            "negative values use defaults",
			cfg:             config.InfluxDBConfig{BatchSize: -5, FlushInterval: -1},
			wantBatch:       100,
			wantFlushMillis: 10000,
			wantMeasurement: DefaultMeasurement,
		},
		{
			name:            "configured",
			cfg:             config.InfluxDBConfig{BatchSize: 20, FlushInterval: 2, Measurement: "hall_states"},
			wantBatch:       20,
			wantFlushMillis: 2000,
			wantMeasurement: "hall_states",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, measurement := mirrorOptions(tt.cfg)
			if opts.BatchSize() != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", opts.BatchSize(), tt.wantBatch)
			}
			if opts.FlushInterval() != tt.wantFlushMillis {
				t.Errorf("FlushInterval() = %d, want %d", opts.FlushInterval(), tt.wantFlushMillis)
			}
			if measurement != tt.wantMeasurement {
				t.Errorf("measurement = %q, want %q", measurement, tt.wantMeasurement)
			}
		})
	}
}

func TestWatchErrors(t *testing.T) {
	c := &Client{open: true}

	var mu sync.Mutex
	var seen []string
	c.SetOnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, err.Error())
	})

	errs := make(chan error, 2)
	errs <- errors.New("write timeout")
	errs <- errors.New("bucket not found")
	close(errs)
	c.watchErrors(errs)

	if got := c.Stats().Failed; got != 2 {
		t.Errorf("Stats().Failed = %d, want 2", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "write timeout" || seen[1] != "bucket not found" {
		t.Errorf("callback saw %v", seen)
	}
}
