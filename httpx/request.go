package httpx

import (
	"context"
	"io"
	"net/url"
)

// Request represents an HTTP request.
//
// On the server the body has already been read from the wire when the
// responder sees the request; Body is then backed by memory and
// ContentLength is its exact size. On the client ContentLength is ignored
// and Body is read to completion before sending.
type Request struct {
	Method        string
	URL           *url.URL
	RequestURI    string
	Proto         string
	ProtoMajor    int
	ProtoMinor    int
	Header        Header
	Body          io.ReadCloser
	Host          string
	ContentLength int64
	// RemoteAddr is the peer address of the connection the request arrived on.
	RemoteAddr string
	// Close reports whether the connection closes after this request's response.
	Close bool
	ctx   context.Context
	// RequestID is the server/client generated identifier for this request.
	RequestID string
	// CorrelationID is a propagated ID from the peer (e.g., X-Correlation-ID).
	CorrelationID string
	// TraceID is the W3C trace-id (32 hex). If empty, a new one may be generated for outbound requests.
	TraceID string
	// SpanID is the current span id (16 hex). For inbound requests, the server generates a new one.
	SpanID string
	// ParentSpanID is the upstream span id, if parsed from traceparent.
	ParentSpanID string
	// TraceState carries tracestate header content, if any, for propagation.
	TraceState string
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}
