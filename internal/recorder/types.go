package recorder

import (
	"maps"
	"strings"
	"time"
)

// Attributes holds an entity's attribute mapping. Values are JSON-compatible
// scalars or structures.
type Attributes map[string]any

// Clone returns a shallow copy of the attribute map. A nil map clones to
// an empty, non-nil map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	maps.Copy(out, a)
	return out
}

// State is an immutable recorded fact about an entity at a point in time.
type State struct {
	// ID is the store-assigned commit sequence number. Zero until committed.
	// IDs strictly increase in commit order.
	ID int64 `json:"id,omitempty"`

	// EntityID is the stable "domain.object_id" identifier.
	EntityID string `json:"entity_id"`

	// Domain is the prefix of EntityID and selects the significance policy.
	Domain string `json:"domain"`

	// State is the string-typed state value.
	State string `json:"state"`

	// Attributes is the attribute snapshot carried with this record.
	Attributes Attributes `json:"attributes"`

	// LastChanged is when State last took a different value.
	LastChanged time.Time `json:"last_changed"`

	// LastUpdated is when this record was produced. It is never before LastChanged.
	LastUpdated time.Time `json:"last_updated"`
}

// Clone returns a copy of s that shares no attribute map with it.
func (s State) Clone() State {
	s.Attributes = s.Attributes.Clone()
	return s
}

// Event is a state-change notification from the event bus.
type Event struct {
	EntityID   string     `json:"entity_id"`
	Domain     string     `json:"domain,omitempty"`
	State      string     `json:"state"`
	Attributes Attributes `json:"attributes,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// SplitEntityID splits "domain.object_id" at the first dot.
// ok is false when either part is empty or there is no dot.
func SplitEntityID(entityID string) (domain, objectID string, ok bool) {
	domain, objectID, found := strings.Cut(entityID, ".")
	if !found || domain == "" || objectID == "" {
		return "", "", false
	}
	return domain, objectID, true
}

// normalizeTime converts t to UTC at microsecond precision, the
// resolution both stores persist.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
