package httpx

import "dqx0.com/go/website/httpx/internal/http1"

// Response is a complete HTTP response.
//
// A responder fills StatusCode, Header and Body; a zero StatusCode means
// 200. The server never modifies a returned Response, so a responder may
// return the same value for every request. The server computes
// Content-Length itself and writes Body chunked instead when Chunked is set
// and the request was HTTP/1.1. Close asks for the connection to be closed
// after this response.
type Response struct {
	StatusCode int
	// Reason overrides the standard reason phrase.
	Reason  string
	Proto   string
	Header  Header
	Body    []byte
	Chunked bool
	Close   bool
}

// status is the code sent on the wire.
func (r *Response) status() int {
	if r.StatusCode == 0 {
		return 200
	}
	return r.StatusCode
}

// NewResponse returns a response with the given status, content type and body.
func NewResponse(status int, contentType string, body []byte) *Response {
	h := Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{StatusCode: status, Header: h, Body: body}
}

// Text returns a text/plain response.
func Text(status int, body string) *Response {
	return NewResponse(status, "text/plain; charset=utf-8", []byte(body))
}

// StatusText returns the standard reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return http1.StatusText(code)
}
