package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the recorder's slice of the Gray Logic topic tree.
const (
	// TopicPrefixCore is the base for all core topics.
	TopicPrefixCore = "graylogic/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for the MQTT topics the recorder uses.
//
//	topics := mqtt.Topics{}
//	topics.CoreState("light.kitchen")
//	// Returns: "graylogic/core/state/light.kitchen"
type Topics struct{}

// CoreState returns the state-change topic for one entity.
//
// Example: graylogic/core/state/light.kitchen
func (Topics) CoreState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefixCore, entityID)
}

// AllCoreStates returns a pattern matching every entity's state-change topic.
//
// Pattern: graylogic/core/state/+
func (Topics) AllCoreStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefixCore)
}

// RecorderStatus returns the retained online/offline topic for the recorder.
//
// Example: graylogic/system/recorder/status
func (Topics) RecorderStatus() string {
	return fmt.Sprintf("%s/recorder/status", TopicPrefixSystem)
}

// SystemStatus returns the hub-wide system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// EntityFromStateTopic extracts the entity id from a CoreState topic.
// ok is false for any other topic.
func EntityFromStateTopic(topic string) (entityID string, ok bool) {
	prefix := TopicPrefixCore + "/state/"
	rest, found := strings.CutPrefix(topic, prefix)
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
