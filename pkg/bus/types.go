package bus

import "context"

// Status is the coarse bot state shared by every surface.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusAwaiting Status = "awaiting"
	StatusJoined   Status = "joined"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusAwaiting, StatusJoined, StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// MessageType names one message of the broker/agent protocol.
type MessageType string

const (
	TypeGetStatus    MessageType = "GET_STATUS"
	TypeSetStatus    MessageType = "SET_STATUS"
	TypeStatusUpdate MessageType = "STATUS_UPDATE"
	TypeError        MessageType = "ERROR"
	TypePing         MessageType = "PING"
)

// Message is one frame exchanged over a channel or as a one-shot request.
type Message struct {
	Type   MessageType `json:"type"`
	Status Status      `json:"status,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Response answers a one-shot Message.
type Response struct {
	Status  Status `json:"status,omitempty"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MessageHandler answers one-shot messages.
type MessageHandler func(ctx context.Context, msg Message) Response
