// Package engine dispatches name-addressed service commands: it resolves a
// service name to a typed binding, authorizes the caller, and executes the
// binding's invocation wrapper against the caller's chosen wire codecs.
package engine

import "encoding/json"

// ArgumentEnvelope is the wire-level request: the target service name and an
// opaque payload in the caller's serialization format.
type ArgumentEnvelope struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StatusKind classifies a dispatch outcome.
type StatusKind string

// Dispatch outcome statuses. A successful execution reports "Created".
const (
	StatusCreated   StatusKind = "Created"
	StatusForbidden StatusKind = "Forbidden"
	StatusFailed    StatusKind = "Failed"
)

// ResultEnvelope is the structured response returned to the transport layer.
// Failed envelopes carry a serialized example request in Details so callers
// can self-correct.
type ResultEnvelope struct {
	Status  StatusKind      `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
	Details string          `json:"details,omitempty"`
}

// Principal identifies the caller for authorization decisions.
type Principal struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ExampleEnvelope returns the canonical example request serialized into
// failure hints.
func ExampleEnvelope() ArgumentEnvelope {
	return ArgumentEnvelope{
		Name: "app.service",
		Data: json.RawMessage(`{"argument":"value"}`),
	}
}

// exampleHint serializes the canonical example envelope through the caller's
// output codec. Returns empty on codec failure; the primary message still
// stands on its own.
func exampleHint(out Codec) string {
	data, err := out.Marshal(ExampleEnvelope())
	if err != nil {
		return ""
	}
	return string(data)
}

func failure(message, details string) *ResultEnvelope {
	return &ResultEnvelope{Status: StatusFailed, Message: message, Details: details}
}
