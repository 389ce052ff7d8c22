package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ConnectionIDKey is the context key for the websocket connection ID
	ConnectionIDKey ContextKey = "connection_id"
	// ChannelKey is the context key for the chat channel
	ChannelKey ContextKey = "channel"
	// HandleKey is the context key for the user handle
	HandleKey ContextKey = "handle"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID      string
	ConnectionID string
	Channel      string
	Handle       string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithConnectionID adds a connection ID to the context
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connectionID)
}

// WithChannel adds a channel ID to the context
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

// WithHandle adds a handle to the context
func WithHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, HandleKey, handle)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetConnectionID retrieves the connection ID from the context
func GetConnectionID(ctx context.Context) string {
	return stringValue(ctx, ConnectionIDKey)
}

// GetChannel retrieves the channel from the context
func GetChannel(ctx context.Context) string {
	return stringValue(ctx, ChannelKey)
}

// GetHandle retrieves the handle from the context
func GetHandle(ctx context.Context) string {
	return stringValue(ctx, HandleKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		ConnectionID: GetConnectionID(ctx),
		Channel:      GetChannel(ctx),
		Handle:       GetHandle(ctx),
	}
}

// NewConnectionContext starts a trace for a new connection.
func NewConnectionContext(ctx context.Context, connectionID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithConnectionID(ctx, connectionID)
}
