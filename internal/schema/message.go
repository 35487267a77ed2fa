package schema

import "encoding/json"

// MessageType identifies the purpose of a realtime wire message.
type MessageType string

const (
	// MessageTypeSubscribe asks the backend to start delivering a channel.
	MessageTypeSubscribe MessageType = "subscribe"

	// MessageTypeUnsubscribe asks the backend to stop delivering a channel.
	MessageTypeUnsubscribe MessageType = "unsubscribe"

	// MessageTypeEvent carries an application event on a channel.
	MessageTypeEvent MessageType = "event"

	// MessageTypePing is the client heartbeat keep-alive.
	MessageTypePing MessageType = "ping"
)

// Message is the realtime wire shape shared with the backend.
// Inbound messages carry the channel they belong to; the client fans the
// payload out to every handler registered for that channel.
type Message struct {
	Channel string          `json:"channel,omitempty"`
	Type    MessageType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}
