package httpx

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Responder produces the response for a request. A single instance serves
// every request of every connection concurrently and must be safe for that;
// the server does no locking around it.
type Responder interface {
	Respond(ctx context.Context, req *Request) (*Response, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ResponderFunc) Respond(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// invoke calls r exactly once and turns a panic, a nil response and an
// unusable status into errors. The returned response is not modified.
func invoke[R Responder](r R, ctx context.Context, req *Request) (resp *Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp, err = nil, &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	resp, err = r.Respond(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNilResponse
	}
	if code := resp.status(); code < 200 || code > 999 {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, code)
	}
	return resp, nil
}

// errorStatus picks the status sent for a failed request.
func errorStatus(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code <= 599 {
		return se.Code
	}
	return 500
}

// errorResponse is the body-carrying reply for status code.
func errorResponse(code int) *Response {
	return Text(code, StatusText(code)+"\n")
}
