// Package protocol defines the messages exchanged between the wizard page
// and the live server.
package protocol

import (
	"time"
)

// MessageType identifies the type of protocol message.
type MessageType uint8

const (
	// MsgJoin is sent by the client to mount the wizard on a socket.
	MsgJoin MessageType = iota
	// MsgLeave is sent when the client navigates away.
	MsgLeave
	// MsgEvent carries a user interaction.
	MsgEvent
	// MsgReply answers a join or event.
	MsgReply
	// MsgRender carries full section markup to swap in.
	MsgRender
	// MsgState carries a wizard state snapshot.
	MsgState
	// MsgError is sent when a message cannot be handled.
	MsgError
	// MsgHeartbeat keeps the connection alive.
	MsgHeartbeat
)

// String returns a string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MsgJoin:
		return "join"
	case MsgLeave:
		return "leave"
	case MsgEvent:
		return "event"
	case MsgReply:
		return "reply"
	case MsgRender:
		return "render"
	case MsgState:
		return "state"
	case MsgError:
		return "error"
	case MsgHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Message is one frame on the live socket.
type Message struct {
	// Type identifies what kind of message this is
	Type MessageType `json:"t" msgpack:"t"`

	// Ref correlates a reply with its request
	Ref string `json:"ref,omitempty" msgpack:"ref,omitempty"`

	// Topic is the socket topic, "quest:<socket-id>"
	Topic string `json:"topic" msgpack:"topic"`

	// Event names the interaction, e.g. "input" or "next"
	Event string `json:"event,omitempty" msgpack:"event,omitempty"`

	Payload map[string]any `json:"payload,omitempty" msgpack:"payload,omitempty"`

	// Timestamp in Unix milliseconds
	Timestamp int64 `json:"ts,omitempty" msgpack:"ts,omitempty"`
}

// NewMessage creates a new message with the given parameters.
func NewMessage(msgType MessageType, topic, event string) *Message {
	return &Message{
		Type:      msgType,
		Topic:     topic,
		Event:     event,
		Payload:   make(map[string]any),
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithRef adds a reference ID to the message.
func (m *Message) WithRef(ref string) *Message {
	m.Ref = ref
	return m
}

// WithPayload sets the message payload.
func (m *Message) WithPayload(payload map[string]any) *Message {
	m.Payload = payload
	return m
}

// SetPayloadValue sets a single value in the payload.
func (m *Message) SetPayloadValue(key string, value any) *Message {
	if m.Payload == nil {
		m.Payload = make(map[string]any)
	}
	m.Payload[key] = value
	return m
}

// GetPayloadString retrieves a string value from the payload.
func (m *Message) GetPayloadString(key string) string {
	if v, ok := m.Payload[key].(string); ok {
		return v
	}
	return ""
}

// GetPayloadInt retrieves an int value from the payload. Numbers decoded
// by either codec are accepted.
func (m *Message) GetPayloadInt(key string) int {
	switch v := m.Payload[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// JoinMessage creates a join message.
func JoinMessage(topic string, params map[string]any) *Message {
	return NewMessage(MsgJoin, topic, "join").WithPayload(params)
}

// EventMessage creates an event message.
func EventMessage(topic, event string, payload map[string]any) *Message {
	return NewMessage(MsgEvent, topic, event).WithPayload(payload)
}

// ReplyMessage creates a reply message.
func ReplyMessage(ref, topic string, status string, response map[string]any) *Message {
	return NewMessage(MsgReply, topic, "reply").
		WithRef(ref).
		WithPayload(map[string]any{
			"status":   status,
			"response": response,
		})
}

// OkReply creates a successful reply message.
func OkReply(ref, topic string, response map[string]any) *Message {
	return ReplyMessage(ref, topic, "ok", response)
}

// ErrorReply creates an error reply message.
func ErrorReply(ref, topic string, reason string) *Message {
	return ReplyMessage(ref, topic, "error", map[string]any{"reason": reason})
}

// RenderMessage carries section markup.
func RenderMessage(topic, html string) *Message {
	return NewMessage(MsgRender, topic, "render").SetPayloadValue("html", html)
}

// StateMessage carries a state snapshot.
func StateMessage(topic string, state any) *Message {
	return NewMessage(MsgState, topic, "state").SetPayloadValue("state", state)
}

// HeartbeatMessage creates a heartbeat message.
func HeartbeatMessage() *Message {
	return NewMessage(MsgHeartbeat, "quest", "heartbeat")
}
