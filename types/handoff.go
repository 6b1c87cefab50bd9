package types

import "time"

// HandoffStatus 表示转接请求的生命周期状态。
type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "pending"
	HandoffAssigned  HandoffStatus = "assigned"
	HandoffActive    HandoffStatus = "active"
	HandoffCompleted HandoffStatus = "completed"
	HandoffCancelled HandoffStatus = "cancelled"
	HandoffTimeout   HandoffStatus = "timeout"
)

// IsTerminal reports whether the status is a terminal state.
func (s HandoffStatus) IsTerminal() bool {
	switch s {
	case HandoffCompleted, HandoffCancelled, HandoffTimeout:
		return true
	}
	return false
}

// IsValid reports whether the status is one of the known states.
func (s HandoffStatus) IsValid() bool {
	switch s {
	case HandoffPending, HandoffAssigned, HandoffActive,
		HandoffCompleted, HandoffCancelled, HandoffTimeout:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s → next.
// 状态机: pending → assigned → active → completed;
// pending|assigned|active → cancelled; pending → timeout。
func (s HandoffStatus) CanTransitionTo(next HandoffStatus) bool {
	switch s {
	case HandoffPending:
		return next == HandoffAssigned || next == HandoffCancelled || next == HandoffTimeout
	case HandoffAssigned:
		return next == HandoffActive || next == HandoffCompleted || next == HandoffCancelled
	case HandoffActive:
		return next == HandoffCompleted || next == HandoffCancelled
	}
	return false
}

// HandoffPriority 表示转接请求的优先级。
type HandoffPriority string

const (
	PriorityLow    HandoffPriority = "low"
	PriorityMedium HandoffPriority = "medium"
	PriorityHigh   HandoffPriority = "high"
)

// IsValid reports whether the priority is one of the three levels.
func (p HandoffPriority) IsValid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// HandoffRequest is the persisted record tracking one handoff's lifecycle.
// QueueID is immutable and unique; AdvisorID is set if and only if the
// status is assigned, active, or completed.
type HandoffRequest struct {
	QueueID        string           `json:"queue_id"`
	ConversationID string           `json:"conversation_id"`
	UserID         string           `json:"user_id"`
	AdvisorID      string           `json:"advisor_id,omitempty"`
	Status         HandoffStatus    `json:"status"`
	Priority       HandoffPriority  `json:"priority"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Metadata       *HandoffMetadata `json:"metadata,omitempty"`
	TTL            time.Time        `json:"ttl"`
}

// HandoffMetadata carries the fixed optional context of a handoff request
// plus a bounded free-form extension map for forward compatibility.
type HandoffMetadata struct {
	UserInfo *UserInfo         `json:"user_info,omitempty"`
	Context  *RequestContext   `json:"context,omitempty"`
	Metrics  *RequestMetrics   `json:"metrics,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// UserInfo describes the requesting user.
type UserInfo struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// RequestContext describes the conversational context at handoff time.
type RequestContext struct {
	Topic       string `json:"topic,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// RequestMetrics carries conversation metrics captured before handoff.
// SentimentScore is in [-1, 1]; counters are non-negative.
type RequestMetrics struct {
	MessageCount   int     `json:"message_count,omitempty"`
	BotTurns       int     `json:"bot_turns,omitempty"`
	SentimentScore float64 `json:"sentiment_score,omitempty"`
}

// CreateHandoffRequest is the inbound payload for creating a handoff.
type CreateHandoffRequest struct {
	ConversationID string           `json:"conversation_id"`
	UserID         string           `json:"user_id"`
	Priority       HandoffPriority  `json:"priority,omitempty"`
	Metadata       *HandoffMetadata `json:"metadata,omitempty"`
}
