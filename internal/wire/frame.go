// Package wire defines the on-the-wire shapes shared by the framed socket
// and the duplex RPC layer, plus the closed method vocabularies and their
// schema-backed envelope validation.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FrameKind distinguishes a framed message carrying application data from
// a bare acknowledgement of a previously received frame.
type FrameKind string

const (
	FrameMessage FrameKind = "MESSAGE"
	FrameAck     FrameKind = "ACK"
)

// Frame is the outermost envelope carried over the websocket. For
// FrameAck, Data is always nil; for FrameMessage it holds the
// application-layer payload string (itself a serialized Envelope, or the
// literal "authenticated"/"ping").
type Frame struct {
	ID   uuid.UUID `json:"id"`
	Kind FrameKind `json:"type"`
	Data *string   `json:"data"`
}

// NewMessageFrame builds a MESSAGE frame with a fresh id.
func NewMessageFrame(data string) Frame {
	return Frame{ID: uuid.New(), Kind: FrameMessage, Data: &data}
}

// NewAckFrame builds the ACK frame acknowledging id.
func NewAckFrame(id uuid.UUID) Frame {
	return Frame{ID: id, Kind: FrameAck, Data: nil}
}

// Marshal serializes the frame for transmission.
func (f Frame) Marshal() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal frame: %w", err)
	}
	return b, nil
}

// ParseFrame decodes a single inbound websocket text message.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: parse frame: %w", err)
	}
	if f.Kind != FrameMessage && f.Kind != FrameAck {
		return Frame{}, fmt.Errorf("wire: unknown frame type %q", f.Kind)
	}
	return f, nil
}

// AuthenticatedSentinel is the literal MESSAGE payload the dashboard sends
// once to complete the authentication handshake.
const AuthenticatedSentinel = "authenticated"

// PingSentinel is the literal MESSAGE payload a ping() sends.
const PingSentinel = "ping"
