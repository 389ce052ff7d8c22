package protocol

import (
	"encoding/json"
	"fmt"
)

// RequestType enumerates client frame types.
type RequestType string

const (
	TypeChat   RequestType = "chat"
	TypeSystem RequestType = "system"
)

// KeepaliveMessage is the message a client heartbeat carries.
const KeepaliveMessage = "keepalive"

// ChatRequest is a client to server frame.
type ChatRequest struct {
	Type    RequestType `json:"type"`
	Handle  string      `json:"handle"`
	Message string      `json:"message"`
}

// IsKeepalive reports whether r is a heartbeat.
func (r ChatRequest) IsKeepalive() bool {
	return r.Type == TypeSystem && r.Message == KeepaliveMessage
}

// ChatPayload is the data carried by a broadcast envelope.
type ChatPayload struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// Envelope is a server to client frame.
type Envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    *ChatPayload `json:"data,omitempty"`
}

// Ack is a bare acknowledgement.
func Ack() Envelope {
	return Envelope{Success: true}
}

// Failure is an error frame. reason is shown to the client as is.
func Failure(reason string) Envelope {
	return Envelope{Success: false, Message: reason}
}

// Chat wraps one formatted log line for delivery.
func Chat(channel, line string) Envelope {
	return Envelope{Success: true, Data: &ChatPayload{Channel: channel, Message: line}}
}

// Marshal encodes e as a JSON frame.
func (e Envelope) Marshal() ([]byte, error) {
	if !e.Success && e.Message == "" {
		return nil, fmt.Errorf("failure envelope requires a message")
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses a server frame. Used by clients and tests.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, &ProtocolError{Reason: ReasonParse, Err: err}
	}
	return e, nil
}
