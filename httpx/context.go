package httpx

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyCorrelationID
	ctxKeyTrace
)

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFrom reports the request ID stored in ctx, if any.
func RequestIDFrom(ctx context.Context) (string, bool) {
	return stringValue(ctx, ctxKeyRequestID)
}

// WithCorrelationID returns a copy of ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFrom reports the correlation ID stored in ctx, if any.
func CorrelationIDFrom(ctx context.Context) (string, bool) {
	return stringValue(ctx, ctxKeyCorrelationID)
}

func stringValue(ctx context.Context, k ctxKey) (string, bool) {
	s, ok := ctx.Value(k).(string)
	return s, ok && s != ""
}

// LogFields returns the ids and trace carried by ctx as zap fields, for
// responders that log in the scope of a request.
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := RequestIDFrom(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := CorrelationIDFrom(ctx); ok {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if tr, ok := TraceFrom(ctx); ok {
		fields = append(fields, zap.String("trace_id", tr.TraceID), zap.String("span_id", tr.SpanID))
	}
	return fields
}
