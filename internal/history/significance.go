package history

import (
	"github.com/nerrad567/gray-logic-recorder/internal/recorder"
)

// Classification selects how a domain's history is filtered.
type Classification int

const (
	// StateOnly keeps a record only when its state differs from the previous
	// significant record. Attribute-only changes are dropped.
	StateOnly Classification = iota

	// AttributeSignificant keeps every record, attribute-only changes included.
	AttributeSignificant
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case StateOnly:
		return "state_only"
	case AttributeSignificant:
		return "attribute_significant"
	default:
		return "unknown"
	}
}

// DefaultAttributeSignificantDomains are domains whose attributes carry the
// measurement (setpoints, current temperature).
var DefaultAttributeSignificantDomains = []string{"thermostat", "climate", "water_heater"}

// Classifier maps domains to a Classification through a fixed lookup table.
// Unlisted domains are StateOnly. A Classifier is immutable and safe for
// concurrent use.
type Classifier struct {
	table map[string]Classification
}

// NewClassifier builds a classifier marking domains as AttributeSignificant.
func NewClassifier(domains []string) *Classifier {
	table := make(map[string]Classification, len(domains))
	for _, d := range domains {
		table[d] = AttributeSignificant
	}
	return &Classifier{table: table}
}

// Classify returns the classification for domain.
func (c *Classifier) Classify(domain string) Classification {
	if cl, ok := c.table[domain]; ok {
		return cl
	}
	return StateOnly
}

// Filter returns the significant subsequence of records, which must be in
// chronological order. Records of several entities may be interleaved;
// each entity is filtered against its own previous significant record.
func (c *Classifier) Filter(records []recorder.State) []recorder.State {
	out := make([]recorder.State, 0, len(records))
	lastKept := make(map[string]string)

	for _, s := range records {
		if c.Classify(s.Domain) == AttributeSignificant {
			out = append(out, s)
			lastKept[s.EntityID] = s.State
			continue
		}

		prev, seen := lastKept[s.EntityID]
		if seen && prev == s.State {
			continue
		}
		out = append(out, s)
		lastKept[s.EntityID] = s.State
	}
	return out
}
