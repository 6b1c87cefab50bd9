package types

import "time"

// ConnectionStatus 表示一条推送通道的状态。
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "CONNECTED"
	ConnectionInProgress   ConnectionStatus = "IN_PROGRESS"
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
)

// Connection is one live push-channel session for a user. At most one live
// record exists per ConnectionID; a user may own any number of connections.
type Connection struct {
	ConnectionID string              `json:"connection_id"`
	UserID       string              `json:"user_id"`
	Status       ConnectionStatus    `json:"status"`
	LastActivity time.Time           `json:"last_activity"`
	Metadata     *ConnectionMetadata `json:"metadata,omitempty"`
	TTL          time.Time           `json:"ttl"`
}

// ConnectionMetadata describes the client side of a connection.
type ConnectionMetadata struct {
	Platform  string `json:"platform,omitempty"`
	IsAdvisor bool   `json:"is_advisor,omitempty"`
	InHandoff bool   `json:"in_handoff,omitempty"`
}
