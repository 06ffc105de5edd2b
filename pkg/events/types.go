// Package events defines event types and publisher interfaces for dispatch events.
package events

// ServiceDispatchedEvent is emitted after every dispatch attempt, whatever
// its outcome.
type ServiceDispatchedEvent struct {
	App        string `json:"app"`
	Service    string `json:"service"`
	Status     string `json:"status"`
	Principal  string `json:"principal,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp"`
	Env        string `json:"env,omitempty"`
}
