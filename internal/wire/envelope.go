// Package wire defines the transport envelope and payload shapes
// exchanged between a client and a room peer.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MsgType names the envelope's payload kind.
type MsgType string

const (
	MsgSync       MsgType = "sync"
	MsgAwareness  MsgType = "awareness"
	MsgPresence   MsgType = "presence"
	MsgCursor     MsgType = "cursor"
	MsgOperation  MsgType = "operation"
	MsgAck        MsgType = "ack"
	MsgError      MsgType = "error"
	MsgPing       MsgType = "ping"
	MsgPong       MsgType = "pong"
)

// EnvelopeVersion is the current wire format version.
const EnvelopeVersion = 1

// Envelope is the self-contained wire message shape.
type Envelope struct {
	Type      MsgType         `json:"type"`
	RoomID    string          `json:"roomId"`
	ClientID  string          `json:"clientId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Version   int             `json:"version,omitempty"`
}

// New builds an envelope with payload marshaled to JSON and a current
// timestamp (milliseconds since epoch, matching the "lastSeen
// (wall-clock ms)" convention used throughout the payloads).
func New(msgType MsgType, roomID, clientID string, payload interface{}) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	return Envelope{
		Type:      msgType,
		RoomID:    roomID,
		ClientID:  clientID,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
		Version:   EnvelopeVersion,
	}, nil
}

// Encode serializes the envelope to a self-contained string.
func Encode(e Envelope) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

// Decode parses a serialized envelope. A malformed frame returns an
// error; callers surface this as a transport `error` event rather than
// tearing down the session.
func Decode(raw string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// Unmarshal decodes the envelope's payload into dst.
func (e Envelope) Unmarshal(dst interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope has no payload")
	}
	return json.Unmarshal(e.Payload, dst)
}
