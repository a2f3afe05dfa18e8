package domain

import "time"

// TimelineAction tags an audit entry on a ticket.
type TimelineAction string

const (
	ActionCreated       TimelineAction = "created"
	ActionUpdated       TimelineAction = "updated"
	ActionCommentAdded  TimelineAction = "comment_added"
	ActionStatusChanged TimelineAction = "status_changed"
	ActionAssigned      TimelineAction = "assigned"
	ActionSLABreached   TimelineAction = "sla_breached"
	ActionResolved      TimelineAction = "resolved"
	ActionClosed        TimelineAction = "closed"
)

// TimelineEntry is an immutable audit trail entry. PerformedBy is nil for
// entries written by the system.
type TimelineEntry struct {
	Action      TimelineAction `json:"action"`
	PerformedBy *string        `json:"performedBy"`
	Details     string         `json:"details"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Clone copies the entry including the actor pointer.
func (e TimelineEntry) Clone() TimelineEntry {
	if e.PerformedBy != nil {
		id := *e.PerformedBy
		e.PerformedBy = &id
	}
	return e
}

// NewTimelineEntry builds an entry attributed to actorID. An empty actorID
// produces a system entry.
func NewTimelineEntry(action TimelineAction, actorID, details string, at time.Time) TimelineEntry {
	entry := TimelineEntry{Action: action, Details: details, Timestamp: at}
	if actorID != "" {
		entry.PerformedBy = &actorID
	}
	return entry
}
