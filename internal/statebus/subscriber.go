package statebus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-recorder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
)

// Bus is the subset of the MQTT client the subscriber needs.
// *mqtt.Client satisfies it.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Subscriber feeds state-change messages from the bus to a recorder.
// It implements recorder.EventSource.
type Subscriber struct {
	bus   Bus
	topic string
	qos   byte
	now   func() time.Time

	mu         sync.Mutex
	subscribed bool
}

// NewSubscriber creates a subscriber for topic. An empty topic subscribes
// to every entity's state topic.
func NewSubscriber(bus Bus, topic string, qos byte) *Subscriber {
	if topic == "" {
		topic = mqtt.Topics{}.AllCoreStates()
	}
	return &Subscriber{
		bus:   bus,
		topic: topic,
		qos:   qos,
		now:   time.Now,
	}
}

// Topic returns the subscription pattern.
func (s *Subscriber) Topic() string {
	return s.topic
}

// Subscribe starts delivering decoded events to handler.
//
// ctx bounds how long each handler call waits for write-queue space, so
// cancelling it only stops handlers blocked on a full queue. Decode and
// handler errors are returned to the MQTT client, which logs them.
func (s *Subscriber) Subscribe(ctx context.Context, handler recorder.EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribed {
		return ErrAlreadySubscribed
	}

	err := s.bus.Subscribe(s.topic, s.qos, func(topic string, payload []byte) error {
		ev, err := DecodeEvent(topic, payload, s.now())
		if err != nil {
			return err
		}
		return handler(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}

	s.subscribed = true
	return nil
}

// Unsubscribe stops delivery. It is a no-op when not subscribed.
func (s *Subscriber) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.subscribed {
		return nil
	}
	s.subscribed = false

	if err := s.bus.Unsubscribe(s.topic); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", s.topic, err)
	}
	return nil
}
