package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID        contextKey = "trace_id"
	keyConversationID contextKey = "conversation_id"
	keyParticipantID  contextKey = "participant_id"
	keyUserID         contextKey = "user_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithConversationID adds the conversation ID to context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyConversationID, id)
}

// ConversationID extracts the conversation ID from context.
func ConversationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyConversationID).(string)
	return v, ok && v != ""
}

// WithParticipantID adds the participant currently generating to context.
func WithParticipantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyParticipantID, id)
}

// ParticipantID extracts the generating participant from context.
func ParticipantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyParticipantID).(string)
	return v, ok && v != ""
}

// WithUserID adds the authenticated caller to context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

// UserID extracts the authenticated caller from context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}
