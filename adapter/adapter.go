// Package adapter defines the notification boundary for replacement
// outcomes.
//
// Adapters publish replacement events to downstream systems so that
// consumers of the model directory can react (reload, invalidate
// caches, alert). The pipeline owns adapter lifecycle; callers provide
// configuration only.
package adapter

import "context"

// EventType values carried by ReplacementEvent.
const (
	EventCommitted  = "model_committed"
	EventAborted    = "replacement_aborted"
	EventRolledBack = "model_rolled_back"
)

// ReplacementEvent is the payload published when a replacement attempt
// concludes. Field names are a published contract; do not rename.
type ReplacementEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	Model           string `json:"model"`
	Version         string `json:"model_version"`
	Variant         string `json:"variant,omitempty"`
	// Reason is the structured abort reason, empty on success.
	Reason    string `json:"reason,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	// Timestamp is ISO 8601.
	Timestamp    string `json:"timestamp"`
	DurationMs   int64  `json:"duration_ms"`
	BytesFetched int64  `json:"bytes_fetched,omitempty"`
}

// StateChange reports whether the event records a durable store
// transition (a commit or rollback) as opposed to an abort notice.
// Abort notices are advisory; adapters may deliver them with a
// reduced retry budget.
func (e *ReplacementEvent) StateChange() bool {
	return e.EventType == EventCommitted || e.EventType == EventRolledBack
}

// Adapter publishes replacement events to a downstream system.
// Publish is called at most once per replacement attempt.
type Adapter interface {
	// Publish sends a replacement event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ReplacementEvent) error

	// Close releases adapter resources.
	Close() error
}
