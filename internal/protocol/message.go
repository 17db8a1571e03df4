// Package protocol holds the signaling wire format shared by the server and
// the client: a JSON envelope plus one payload struct per message type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// Message types.
const (
	TypeResponse = "response"

	// requests, answered with a correlated response
	TypeGetRouterCapabilities = "getRouterCapabilities"
	TypeJoinRoom              = "joinRoom"
	TypeLeaveRoom             = "leaveRoom"
	TypeCreateTransport       = "createTransport"
	TypeConnectTransport      = "connectTransport"
	TypeProduce               = "produce"
	TypeCloseProducer         = "closeProducer"
	TypeConsume               = "consume"
	TypeWhoAmI                = "whoami"

	// fire and forget
	TypeResume = "resume"
	TypePing   = "ping"
	TypePong   = "pong"

	// server events
	TypeNewProducer    = "new-producer"
	TypeProducerClosed = "producer-closed"
	TypePeerJoined     = "peer-joined"
	TypePeerLeft       = "peer-left"
	TypeRoomClosed     = "room-closed"

	// call signaling, both directions; call-offer from a client is a request
	TypeCallOffer   = "call-offer"
	TypeCallAccept  = "call-accept"
	TypeCallDecline = "call-decline"
	TypeCallEnd     = "call-end"
)

// Message is the envelope of every frame. ID is set on requests and on the
// matching response only.
type Message struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error is the error body of a failed response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Unwrap exposes the domain sentinel for the code so errors.Is works across
// the wire.
func (e *Error) Unwrap() error { return domain.ErrorFromCode(e.Code) }

func NewError(err error) *Error {
	var wire *Error
	if errors.As(err, &wire) {
		return wire
	}
	return &Error{Code: domain.ErrorCode(err), Message: err.Error()}
}

// Encode builds a frame of the given type. A nil payload omits data.
func Encode(typ string, id uint64, payload any) ([]byte, error) {
	msg := Message{Type: typ, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", typ, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// EncodeError builds a failed response frame.
func EncodeError(id uint64, err error) ([]byte, error) {
	return json.Marshal(Message{Type: TypeResponse, ID: id, Error: NewError(err)})
}

func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", domain.ErrBadPayload)
	}
	return msg, nil
}

// Bind decodes the message data into v.
func (m Message) Bind(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrBadPayload, m.Type, err)
	}
	return nil
}
