// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// messageTypeKey is the context key for propagating the message type being handled.
	messageTypeKey contextKey = "message_type"
)

// DispatchResult represents what the coordinator did with a message.
type DispatchResult string

const (
	// DispatchHandled means a handler ran and replied or acknowledged.
	DispatchHandled DispatchResult = "handled"
	// DispatchIgnored means the message was not addressed to the coordinator.
	DispatchIgnored DispatchResult = "ignored"
	// DispatchInvalid means the message could not be decoded or had an unknown type.
	DispatchInvalid DispatchResult = "invalid"
	// DispatchFailed means the handler could not produce a reply.
	DispatchFailed DispatchResult = "failed"
	// DispatchBypass marks requests that never reached the dispatcher.
	DispatchBypass DispatchResult = "bypass"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Target      string
	MessageType string
	Result      DispatchResult
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{Result: DispatchBypass}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext retrieves the request tags from ctx, or nil.
func TagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetResult sets the dispatch result for logging.
func SetResult(r *http.Request, result DispatchResult) {
	if tags := GetTags(r); tags != nil {
		tags.Result = result
	}
}

// SetMessage records the target and type of the message carried by r.
func SetMessage(r *http.Request, target, messageType string) {
	if tags := GetTags(r); tags != nil {
		tags.Target = target
		tags.MessageType = messageType
	}
}

// MessageTypeFromContext retrieves the message type being handled.
// It checks both handler contexts (set by WithMessageType) and
// request contexts (set by SetMessage via InjectTags).
func MessageTypeFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(messageTypeKey).(string); ok && t != "" {
		return t
	}
	if tags := TagsFromContext(ctx); tags != nil {
		return tags.MessageType
	}
	return ""
}

// WithMessageType returns a context carrying the message type.
// Handlers use it so cache and upstream metrics can be attributed.
func WithMessageType(ctx context.Context, messageType string) context.Context {
	return context.WithValue(ctx, messageTypeKey, messageType)
}
