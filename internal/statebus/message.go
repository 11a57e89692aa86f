package statebus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
)

// StateMessage is the wire form of a state change on the bus.
type StateMessage struct {
	EntityID   string         `json:"entity_id"`
	Domain     string         `json:"domain,omitempty"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// MarshalJSON encodes the timestamp as RFC 3339 with sub-second precision.
func (m StateMessage) MarshalJSON() ([]byte, error) {
	type Alias StateMessage
	return json.Marshal(&struct {
		Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     Alias(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON accepts a string, number or bool state and an optional
// RFC 3339 timestamp.
func (m *StateMessage) UnmarshalJSON(data []byte) error {
	type Alias StateMessage
	aux := &struct {
		*Alias
		State     json.RawMessage `json:"state"`
		Timestamp string          `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal state message: %w", err)
	}

	state, err := decodeStateValue(aux.State)
	if err != nil {
		return err
	}
	m.State = state

	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// decodeStateValue stringifies a JSON scalar. Numbers keep their literal
// text so "21.50" stays "21.50".
func decodeStateValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("state is missing")
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("state: %w", err)
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", fmt.Errorf("state: %w", err)
		}
		return strconv.FormatBool(b), nil
	case '{', '[':
		return "", fmt.Errorf("state must be a scalar, got %s", raw[:1])
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("state: %w", err)
		}
		return n.String(), nil
	}
}

// DecodeEvent turns one bus message into a recorder event.
//
// The entity id falls back to the topic's last level and the timestamp
// falls back to received. A payload naming a different entity than its
// topic is rejected.
//
// Parameters:
//   - topic: The MQTT topic the message arrived on
//   - payload: The raw JSON payload
//   - received: When the message was received
//
// Returns:
//   - recorder.Event: The decoded event, not yet validated by Intake
//   - error: Wrapping ErrInvalidPayload when the payload cannot be used
func DecodeEvent(topic string, payload []byte, received time.Time) (recorder.Event, error) {
	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return recorder.Event{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	topicEntity, fromTopic := mqtt.EntityFromStateTopic(topic)
	switch {
	case msg.EntityID == "" && fromTopic:
		msg.EntityID = topicEntity
	case msg.EntityID == "":
		return recorder.Event{}, fmt.Errorf("%w: no entity_id in payload or topic %q", ErrInvalidPayload, topic)
	case fromTopic && msg.EntityID != topicEntity:
		return recorder.Event{}, fmt.Errorf("%w: entity_id %q published on topic %q", ErrInvalidPayload, msg.EntityID, topic)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = received
	}

	return recorder.Event{
		EntityID:   msg.EntityID,
		Domain:     msg.Domain,
		State:      msg.State,
		Attributes: msg.Attributes,
		Timestamp:  msg.Timestamp,
	}, nil
}

// MessageFromEvent builds the wire form of ev.
func MessageFromEvent(ev recorder.Event) StateMessage {
	return StateMessage{
		EntityID:   ev.EntityID,
		Domain:     ev.Domain,
		State:      ev.State,
		Attributes: ev.Attributes,
		Timestamp:  ev.Timestamp,
	}
}
