package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, max int) *Codec {
	t.Helper()
	c, err := NewCodec(max)
	require.NoError(t, err)
	return c
}

func TestNewCodec_DefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultMaxMessageLength, newTestCodec(t, 0).MaxMessageLength())
	assert.Equal(t, 10, newTestCodec(t, 10).MaxMessageLength())
}

func TestCodec_Decode(t *testing.T) {
	codec := newTestCodec(t, 10)

	tests := []struct {
		name   string
		input  string
		want   ChatRequest
		reason string
	}{
		{
			name:  "chat",
			input: `{"type":"chat","handle":"Alice","message":"hello"}`,
			want:  ChatRequest{Type: TypeChat, Handle: "Alice", Message: "hello"},
		},
		{
			name:  "chat is trimmed",
			input: `{"type":"chat","handle":"Alice","message":"  hi \n"}`,
			want:  ChatRequest{Type: TypeChat, Handle: "Alice", Message: "hi"},
		},
		{
			name:  "keepalive",
			input: `{"type":"system","handle":"Alice","message":"keepalive"}`,
			want:  ChatRequest{Type: TypeSystem, Handle: "Alice", Message: KeepaliveMessage},
		},
		{
			name:  "other system message",
			input: `{"type":"system","handle":"Alice","message":"reboot"}`,
			want:  ChatRequest{Type: TypeSystem, Handle: "Alice", Message: "reboot"},
		},
		{
			name:  "unknown fields are ignored",
			input: `{"type":"chat","handle":"Alice","message":"x","extra":1}`,
			want:  ChatRequest{Type: TypeChat, Handle: "Alice", Message: "x"},
		},
		{name: "malformed json", input: `{"type":"chat",`, reason: ReasonParse},
		{name: "not an object", input: `["chat"]`, reason: ReasonInvalidPayload},
		{name: "missing handle", input: `{"type":"chat","message":"hello"}`, reason: ReasonInvalidPayload},
		{name: "empty handle", input: `{"type":"chat","handle":"","message":"hello"}`, reason: ReasonInvalidPayload},
		{name: "missing message", input: `{"type":"chat","handle":"Alice"}`, reason: ReasonInvalidPayload},
		{name: "wrong field type", input: `{"type":"chat","handle":"Alice","message":5}`, reason: ReasonInvalidPayload},
		{name: "unknown type", input: `{"type":"shout","handle":"Alice","message":"hi"}`, reason: ReasonInvalidType},
		{name: "empty chat", input: `{"type":"chat","handle":"Alice","message":""}`, reason: ReasonInvalidPayload},
		{name: "blank chat", input: `{"type":"chat","handle":"Alice","message":"   "}`, reason: ReasonInvalidPayload},
		{name: "too long", input: `{"type":"chat","handle":"Alice","message":"01234567890"}`, reason: ReasonTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Decode([]byte(tt.input))
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			require.Error(t, err)
			pe, ok := AsProtocolError(err)
			require.True(t, ok, "expected ProtocolError, got %T", err)
			assert.Equal(t, tt.reason, pe.Reason)
		})
	}
}

func TestCodec_LimitCountsRunes(t *testing.T) {
	codec := newTestCodec(t, 3)

	_, err := codec.Decode([]byte(`{"type":"chat","handle":"Alice","message":"héé"}`))
	assert.NoError(t, err)

	_, err = codec.Decode([]byte(`{"type":"chat","handle":"Alice","message":"` + strings.Repeat("é", 4) + `"}`))
	assert.Error(t, err)
}

func TestCheckHandle(t *testing.T) {
	req := ChatRequest{Type: TypeChat, Handle: "Alice", Message: "hi"}

	assert.NoError(t, CheckHandle(req, "Alice"))

	err := CheckHandle(req, "Bob")
	pe, ok := AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonHandleMismatch, pe.Reason)
	assert.Contains(t, err.Error(), "Handle mismatch")
}

func TestChatRequest_IsKeepalive(t *testing.T) {
	assert.True(t, ChatRequest{Type: TypeSystem, Message: KeepaliveMessage}.IsKeepalive())
	assert.False(t, ChatRequest{Type: TypeChat, Message: KeepaliveMessage}.IsKeepalive())
	assert.False(t, ChatRequest{Type: TypeSystem, Message: "reboot"}.IsKeepalive())
}

func TestEnvelope_Marshal(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{name: "ack", env: Ack(), want: `{"success":true}`},
		{name: "failure", env: Failure("User already registered"), want: `{"success":false,"message":"User already registered"}`},
		{
			name: "chat",
			env:  Chat("general", "[2024-01-02 03:04:05] Alice: hello"),
			want: `{"success":true,"data":{"channel":"general","message":"[2024-01-02 03:04:05] Alice: hello"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.env.Marshal()
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}

	_, err := Envelope{}.Marshal()
	assert.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"success":true,"data":{"channel":"tech","message":"line"}}`))
	require.NoError(t, err)
	assert.Equal(t, Chat("tech", "line"), env)

	_, err = DecodeEnvelope([]byte(`nope`))
	pe, ok := AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonParse, pe.Reason)
}
