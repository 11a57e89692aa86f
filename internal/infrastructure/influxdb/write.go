package influxdb

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// attributeFieldPrefix namespaces attribute fields so they never collide
// with the state and value fields.
const attributeFieldPrefix = "attr_"

// Measurement returns the measurement state points are written to.
func (c *Client) Measurement() string {
	return c.measurement
}

// WriteEntityState mirrors one committed entity state.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Failures surface through the SetOnError callback and Stats.
//
// Parameters:
//   - entityID: The entity id (e.g., "sensor.hall_temperature")
//   - domain: The entity's domain (e.g., "sensor")
//   - state: The string state value
//   - attributes: The attribute snapshot; only numeric values are written
//   - ts: The record's last_updated time
//
// Example:
//
//	client.WriteEntityState("climate.lounge", "climate", "heat",
//	    map[string]any{"temperature": 21.5}, time.Now())
func (c *Client) WriteEntityState(entityID, domain, state string, attributes map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(buildStatePoint(c.measurement, entityID, domain, state, attributes, ts))
	c.written.Add(1)
}

// buildStatePoint builds the point for one entity state.
//
// Tags: entity_id, domain. Fields: state (string), value (float, when the
// state parses as a number), attr_<name> for each numeric attribute.
func buildStatePoint(measurement, entityID, domain, state string, attributes map[string]any, ts time.Time) *write.Point {
	tags := map[string]string{
		"entity_id": entityID,
		"domain":    domain,
	}
	return write.NewPoint(measurement, tags, stateFields(state, attributes), ts)
}

func stateFields(state string, attributes map[string]any) map[string]interface{} {
	fields := map[string]interface{}{
		"state": state,
	}
	if v, err := strconv.ParseFloat(state, 64); err == nil {
		fields["value"] = v
	}
	for name, raw := range attributes {
		if v, ok := numericValue(raw); ok {
			fields[attributeFieldPrefix+name] = v
		}
	}
	return fields
}

// numericValue reports raw as a float64 when it is a number. Booleans and
// numeric strings are not numbers here.
func numericValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
