// Package mqtt provides MQTT client connectivity for the Gray Logic recorder.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Topic subscriptions, restored after reconnect
//   - Message publishing with QoS guarantees
//   - A retained recorder status topic with Last Will for crash detection
//
// # Architecture
//
// Core publishes every entity state change on graylogic/core/state/{entity_id}.
// The recorder subscribes to graylogic/core/state/+ and feeds each message to
// its intake.
//
//	Gray Logic Core -> MQTT Broker -> Recorder
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCoreStates(), 1,
//	    func(topic string, payload []byte) error {
//	        entityID, _ := mqtt.EntityFromStateTopic(topic)
//	        log.Printf("%s: %s", entityID, payload)
//	        return nil
//	    })
package mqtt
