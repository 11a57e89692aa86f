package statebus

import (
	"fmt"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
)

// Publisher is the subset of the MQTT client the emitter needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Emitter publishes state changes in the bus wire format.
type Emitter struct {
	pub Publisher
}

// NewEmitter creates an emitter that publishes through pub.
func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub}
}

// Emit publishes ev on its entity's state topic. Messages are not retained;
// the recorder only records changes it sees live.
func (e *Emitter) Emit(ev recorder.Event) error {
	if _, _, ok := recorder.SplitEntityID(ev.EntityID); !ok {
		return fmt.Errorf("%w: entity_id %q is not domain.object_id", recorder.ErrInvalidEvent, ev.EntityID)
	}

	topic := mqtt.Topics{}.CoreState(ev.EntityID)
	if err := e.pub.PublishJSON(topic, MessageFromEvent(ev), false); err != nil {
		return fmt.Errorf("emitting %s: %w", ev.EntityID, err)
	}
	return nil
}
