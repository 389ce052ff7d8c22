package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultMaxMessageLength caps chat text, in runes.
const DefaultMaxMessageLength = 2000

// Codec decodes and validates inbound frames.
type Codec struct {
	schema           *gojsonschema.Schema
	maxMessageLength int
}

// NewCodec builds a codec. maxMessageLength <= 0 selects the default.
func NewCodec(maxMessageLength int) (*Codec, error) {
	schema, err := compileSchema(ChatRequestSchema)
	if err != nil {
		return nil, err
	}
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &Codec{schema: schema, maxMessageLength: maxMessageLength}, nil
}

// MaxMessageLength returns the configured chat text limit.
func (c *Codec) MaxMessageLength() int {
	return c.maxMessageLength
}

// Decode parses one client frame. Every failure is a *ProtocolError.
func (c *Codec) Decode(data []byte) (ChatRequest, error) {
	if !json.Valid(data) {
		return ChatRequest{}, &ProtocolError{Reason: ReasonParse, Err: fmt.Errorf("malformed JSON")}
	}
	if err := validateSchema(c.schema, data); err != nil {
		return ChatRequest{}, &ProtocolError{Reason: ReasonInvalidPayload, Err: err}
	}

	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ChatRequest{}, &ProtocolError{Reason: ReasonParse, Err: err}
	}
	req.Message = strings.TrimSpace(req.Message)

	switch req.Type {
	case TypeChat:
		if req.Message == "" {
			return ChatRequest{}, &ProtocolError{Reason: ReasonInvalidPayload, Err: fmt.Errorf("empty message")}
		}
		if n := utf8.RuneCountInString(req.Message); n > c.maxMessageLength {
			return ChatRequest{}, &ProtocolError{
				Reason: ReasonTooLong,
				Err:    fmt.Errorf("%d runes exceeds limit of %d", n, c.maxMessageLength),
			}
		}
	case TypeSystem:
	default:
		return ChatRequest{}, &ProtocolError{
			Reason: ReasonInvalidType,
			Err:    fmt.Errorf("unknown frame type %q", req.Type),
		}
	}

	return req, nil
}

// CheckHandle rejects a frame that claims a handle other than the session's.
func CheckHandle(req ChatRequest, handle string) error {
	if req.Handle != handle {
		return &ProtocolError{
			Reason: ReasonHandleMismatch,
			Err:    fmt.Errorf("frame handle %q does not match session handle %q", req.Handle, handle),
		}
	}
	return nil
}
