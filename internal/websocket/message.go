package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeStateUpdate MessageType = "state_update"
	TypeStateDelete MessageType = "state_delete"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypeError       MessageType = "error"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StateUpdatePayload announces a new remote version of a key. Clients
// pull the token themselves; it is not pushed over the socket.
type StateUpdatePayload struct {
	Key         string    `json:"key"`
	Version     int64     `json:"version"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
	DeviceID    string    `json:"device_id"`
}

type StateDeletePayload struct {
	Key      string `json:"key"`
	DeviceID string `json:"device_id"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
