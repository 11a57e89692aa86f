// Package statebus connects the recorder to the Gray Logic state bus.
//
// Core publishes one JSON message per entity state change:
//
//	topic:   graylogic/core/state/{entity_id}
//	payload: {"entity_id":"light.kitchen","domain":"light","state":"on",
//	          "attributes":{"brightness":180},"timestamp":"2026-03-01T12:00:00Z"}
//
// Subscriber decodes those messages into recorder.Event values and implements
// recorder.EventSource. Emitter publishes the same format and is used by the
// CLI emit command.
package statebus
