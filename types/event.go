package types

import "time"

// EventType 表示转接域事件类型。
type EventType string

const (
	EventHandoffRequested EventType = "handoff_requested"
	EventAdvisorAssigned  EventType = "advisor_assigned"
	EventHandoffStarted   EventType = "handoff_started"
	EventHandoffCompleted EventType = "handoff_completed"
	EventStatusUpdated    EventType = "status_updated"
)

// HandoffEvent is one domain event emitted by the controller. Detail is a
// tagged variant keyed by the event type; consumers switch on Type and read
// the matching field.
type HandoffEvent struct {
	Type      EventType   `json:"type"`
	QueueID   string      `json:"queue_id"`
	UserID    string      `json:"user_id"`
	AdvisorID string      `json:"advisor_id,omitempty"`
	Detail    EventDetail `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventDetail carries the per-kind optional fields of an event plus a
// bounded extension map.
type EventDetail struct {
	Requested *RequestedDetail  `json:"requested,omitempty"`
	Assigned  *AssignedDetail   `json:"assigned,omitempty"`
	Status    *StatusDetail     `json:"status,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RequestedDetail accompanies EventHandoffRequested.
type RequestedDetail struct {
	ConversationID string          `json:"conversation_id"`
	Priority       HandoffPriority `json:"priority,omitempty"`
	PendingDepth   int64           `json:"pending_depth,omitempty"`
}

// AssignedDetail accompanies EventAdvisorAssigned.
type AssignedDetail struct {
	WaitTime time.Duration `json:"wait_time_ms"`
}

// StatusDetail accompanies EventStatusUpdated and EventHandoffCompleted.
type StatusDetail struct {
	From   HandoffStatus `json:"from,omitempty"`
	To     HandoffStatus `json:"to"`
	Reason string        `json:"reason,omitempty"`
}
