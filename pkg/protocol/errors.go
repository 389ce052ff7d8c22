package protocol

import "errors"

// Rejection reasons sent to clients.
const (
	ReasonParse          = "Error parsing message"
	ReasonInvalidPayload = "Invalid payload"
	ReasonInvalidType    = "Invalid message type"
	ReasonTooLong        = "Message too long"
	ReasonHandleMismatch = "Handle mismatch"
)

// ProtocolError is a malformed or disallowed client frame. It always ends
// the offending connection.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol error: " + e.Reason
	}
	return "protocol error: " + e.Reason + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// AsProtocolError extracts a ProtocolError from err.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
