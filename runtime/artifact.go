package runtime

import (
	"fmt"

	"github.com/Jeffail/gabs/v2"
)

// ProducerExternal marks an artifact seeded from outside the flow
// (the initial user input) rather than produced by a registered step.
const ProducerExternal = "system"

// Artifact is the data carrier between steps. It records provenance
// (Producer), destination (Destination) and the payload being passed.
// The payload keeps its original type; it is never coerced while routed.
// Flow only ever touches Destination; the payload is immutable once a
// step has returned the artifact.
type Artifact struct {
	Producer    string
	Destination string
	Payload     any
}

// NewArtifact creates an artifact produced by the named step.
func NewArtifact(producer string, payload any) Artifact {
	return Artifact{Producer: producer, Payload: payload}
}

// seedArtifact wraps external input headed for the start step.
func seedArtifact(payload any, destination string) Artifact {
	return Artifact{
		Producer:    ProducerExternal,
		Destination: destination,
		Payload:     payload,
	}
}

// PayloadString renders the payload for display. Strings pass through,
// maps and slices serialize to indented JSON (key order is deterministic),
// anything else falls back to fmt formatting.
func (a Artifact) PayloadString() string {
	return RenderPayload(a.Payload)
}

// Lookup resolves a dot-separated path inside a structured payload.
// Returns false if the payload is not structured or the path is absent.
func (a Artifact) Lookup(path string) (any, bool) {
	switch a.Payload.(type) {
	case map[string]any, []any:
		c := gabs.Wrap(a.Payload)
		if v := c.Path(path); v != nil {
			return v.Data(), true
		}
		return nil, false
	default:
		return nil, false
	}
}

// RenderPayload converts any payload value to a display string.
func RenderPayload(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		return gabs.Wrap(v).StringIndent("", "  ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
