package tools

import (
	"context"
	"strings"
)

type invocationContextKey struct{}

// InvocationContext carries caller metadata for tool execution.
type InvocationContext struct {
	OwnerID        string
	ConversationID string
	RequestID      string
	ToolCallID     string
}

// WithInvocationContext stores invocation metadata in context for tools.
func WithInvocationContext(ctx context.Context, meta InvocationContext) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, meta)
}

// InvocationFromContext reads invocation metadata from context.
func InvocationFromContext(ctx context.Context) InvocationContext {
	v := ctx.Value(invocationContextKey{})
	meta, ok := v.(InvocationContext)
	if !ok {
		return InvocationContext{}
	}
	meta.OwnerID = strings.TrimSpace(meta.OwnerID)
	meta.ConversationID = strings.TrimSpace(meta.ConversationID)
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	meta.ToolCallID = strings.TrimSpace(meta.ToolCallID)
	return meta
}
