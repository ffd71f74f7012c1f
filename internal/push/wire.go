package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ripple/internal/chat"
)

// Protocol constants (wire-stable).
const (
	Version = 1

	Subprotocol = "ripple.v1"

	// TypeHello starts the session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello.ack"
	// TypeMessageNew delivers a newly created message (server -> client).
	TypeMessageNew = "message.new"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var allowedTypes = map[string]struct{}{
	TypeHello:      {},
	TypeHelloAck:   {},
	TypeMessageNew: {},
	TypeError:      {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// NewEnvelope wraps a payload with a fresh envelope ID.
func NewEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

// HelloPayload is sent by the client to authenticate the channel.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload confirms authentication.
type HelloAckPayload struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
}

// MessageNewPayload carries the created message.
type MessageNewPayload struct {
	Message chat.Message `json:"message"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
