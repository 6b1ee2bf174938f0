// Package queue defines the change-feed payloads exchanged over the message
// broker and the background consumer that fans invalidations out to readers.
package queue

// Actions carried by EntryChangedEvent.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionConfirmed = "confirmed"
	ActionRejected  = "rejected"
	ActionDeleted   = "deleted"
	ActionSubmitted = "submitted"
)

// EntryChangedEvent is published after every successful mutation of a time
// entry. It is an invalidation signal, not a data carrier: it names the
// table and the entity that changed so interested readers can re-read
// exactly the rows they care about, never a delta. OwnerID lets consumers
// scope cache invalidation to the affected user's views.
type EntryChangedEvent struct {
	EventID    string `json:"event_id"`
	Table      string `json:"table"`
	EntityID   uint64 `json:"entity_id"`
	OwnerID    uint64 `json:"owner_id"`
	Action     string `json:"action"`
	ActorID    uint64 `json:"actor_id"`
	OccurredAt string `json:"occurred_at"`
}
