package types

import (
	"encoding/json"
	"time"
)

// MessageType 表示队列消息的种类。
type MessageType string

const (
	MessageTypeChat    MessageType = "message"
	MessageTypeHandoff MessageType = "handoff"
	MessageTypeSystem  MessageType = "system"
)

// IsValid reports whether the message type is known.
func (t MessageType) IsValid() bool {
	return t == MessageTypeChat || t == MessageTypeHandoff || t == MessageTypeSystem
}

// QueueMessage is one unit of asynchronous work. It is created on enqueue,
// consumed exactly once logically (acknowledged) or moved to dead-letter,
// and never mutated in place.
type QueueMessage struct {
	ID       string          `json:"id"`
	Type     MessageType     `json:"type"`
	Payload  MessagePayload  `json:"payload"`
	Metadata MessageMetadata `json:"metadata"`
}

// MessagePayload is a tagged variant: exactly one of the kind-specific
// fields is set, matching the message Type. Extra carries bounded
// forward-compatible extensions.
type MessagePayload struct {
	Chat    *ChatPayload      `json:"chat,omitempty"`
	Handoff *HandoffPayload   `json:"handoff,omitempty"`
	System  *SystemPayload    `json:"system,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// ChatPayload is the payload of a MessageTypeChat message.
type ChatPayload struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Sender         string `json:"sender,omitempty"`
}

// HandoffPayload is the payload of a MessageTypeHandoff message.
type HandoffPayload struct {
	QueueID   string        `json:"queue_id"`
	Status    HandoffStatus `json:"status,omitempty"`
	AdvisorID string        `json:"advisor_id,omitempty"`
}

// SystemPayload is the payload of a MessageTypeSystem message.
type SystemPayload struct {
	Action string          `json:"action"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// MessageMetadata carries delivery bookkeeping for a queue message.
// RetryCount increases monotonically across redeliveries.
type MessageMetadata struct {
	UserID     string          `json:"user_id"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
	Priority   HandoffPriority `json:"priority,omitempty"`
}

// DeadLetter wraps an exhausted queue message together with the captured
// error metadata; it is the terminal outcome of exhausted retries.
type DeadLetter struct {
	Message  QueueMessage `json:"message"`
	Error    string       `json:"error"`
	Attempts int          `json:"attempts"`
	FailedAt time.Time    `json:"failed_at"`
}
