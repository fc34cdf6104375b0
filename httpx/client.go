package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"dqx0.com/go/website/httpx/internal/http1"
)

// Client is a minimal HTTP/1.1 client. It keeps no connection pool: a
// ClientConn is one connection on which requests may be pipelined.
type Client struct {
	// Timeout bounds a whole exchange in Do and Get. Zero means no limit
	// beyond the context's.
	Timeout     time.Duration
	DialTimeout time.Duration
	// MaxHeaderBytes limits a response header line; MaxBodyBytes the body.
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

// Dial opens a connection to addr (host:port).
func (c *Client) Dial(ctx context.Context, addr string) (*ClientConn, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientConn(nc, c.MaxHeaderBytes, c.MaxBodyBytes), nil
}

// Do sends req on a fresh connection to addr and returns the response.
func (c *Client) Do(ctx context.Context, addr string, req *Request) (*Response, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cc, err := c.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer cc.Close()
	return cc.Do(WithContext(req, ctx))
}

// Get issues a GET for rawURL, which must be an http URL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" || u.Host == "" {
		return nil, fmt.Errorf("httpx: unsupported URL %q", rawURL)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}
	return c.Do(ctx, addr, &Request{Method: "GET", URL: u, Host: u.Host})
}

// ClientConn is a client connection. Send and Receive may run on different
// goroutines; responses are matched to requests in send order.
type ClientConn struct {
	nc      net.Conn
	bw      *bufio.Writer
	rd      *http1.Reader
	maxBody int64

	wmu sync.Mutex
	rmu sync.Mutex

	mu      sync.Mutex
	pending []string // methods awaiting a response
}

// NewClientConn wraps an established connection.
func NewClientConn(nc net.Conn, maxHeaderBytes int, maxBodyBytes int64) *ClientConn {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &ClientConn{
		nc:      nc,
		bw:      bufio.NewWriter(nc),
		rd:      &http1.Reader{BR: bufio.NewReader(nc), MaxHeaderBytes: maxHeaderBytes},
		maxBody: maxBodyBytes,
	}
}

// Send writes req. The request id and trace context in req's context are
// propagated as X-Request-ID and traceparent unless req sets them.
func (cc *ClientConn) Send(req *Request) error {
	method := req.Method
	if method == "" {
		method = "GET"
	}
	target := req.RequestURI
	if target == "" && req.URL != nil {
		target = req.URL.RequestURI()
	}
	if target == "" {
		target = "/"
	}
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return err
		}
		body = b
	}

	hdr := req.Header.Clone()
	if hdr.Get("Host") == "" {
		hdr.Set("Host", cc.host(req))
	}
	ctx := req.Context()
	if id, ok := RequestIDFrom(ctx); ok && hdr.Get("X-Request-ID") == "" {
		hdr.Set("X-Request-ID", id)
	}
	if hdr.Get("Traceparent") == "" {
		if tr, ok := TraceFrom(ctx); ok {
			// The callee's parent is the caller's current span.
			hdr.Set("Traceparent", Trace{TraceID: tr.TraceID, SpanID: tr.SpanID, Flags: tr.Flags}.Traceparent())
		} else if req.TraceID != "" && req.SpanID != "" {
			hdr.Set("Traceparent", formatTraceparent(req.TraceID, req.SpanID, ""))
		}
		if req.TraceState != "" && hdr.Get("Tracestate") == "" {
			hdr.Set("Tracestate", req.TraceState)
		}
	}

	cc.wmu.Lock()
	defer cc.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = cc.nc.SetWriteDeadline(dl)
	}
	if err := http1.WriteRequest(cc.bw, method, target, hdr, body); err != nil {
		return wireError(err)
	}
	if err := cc.bw.Flush(); err != nil {
		return wireError(err)
	}
	cc.mu.Lock()
	cc.pending = append(cc.pending, method)
	cc.mu.Unlock()
	return nil
}

func (cc *ClientConn) host(req *Request) string {
	if req.Host != "" {
		return req.Host
	}
	if req.URL != nil && req.URL.Host != "" {
		return req.URL.Host
	}
	if a := cc.nc.RemoteAddr(); a != nil {
		return a.String()
	}
	return "localhost"
}

// Receive reads the response to the oldest request not yet answered.
// Interim 1xx responses are skipped.
func (cc *ClientConn) Receive() (*Response, error) {
	cc.rmu.Lock()
	defer cc.rmu.Unlock()
	cc.mu.Lock()
	if len(cc.pending) == 0 {
		cc.mu.Unlock()
		return nil, errors.New("httpx: no request pending")
	}
	method := cc.pending[0]
	cc.pending = cc.pending[1:]
	cc.mu.Unlock()

	for {
		pr, err := cc.rd.ReadResponse(method)
		if err != nil {
			return nil, wireError(err)
		}
		if pr.StatusCode < 200 {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(pr.Body, cc.maxBody+1))
		_ = pr.Body.Close()
		if err != nil {
			return nil, wireError(err)
		}
		if int64(len(body)) > cc.maxBody {
			return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, cc.maxBody)
		}
		h := Header(pr.Header)
		return &Response{
			StatusCode: pr.StatusCode,
			Reason:     pr.Reason,
			Proto:      pr.Proto,
			Header:     h,
			Body:       body,
			Chunked:    h.hasToken("Transfer-Encoding", "chunked"),
			Close:      pr.Close,
		}, nil
	}
}

// Do sends req and waits for its response. The read is bounded by the
// deadline of req's context.
func (cc *ClientConn) Do(req *Request) (*Response, error) {
	if err := cc.Send(req); err != nil {
		return nil, err
	}
	if dl, ok := req.Context().Deadline(); ok {
		_ = cc.nc.SetReadDeadline(dl)
		defer cc.nc.SetReadDeadline(time.Time{})
	}
	return cc.Receive()
}

// SetDeadline bounds every later Send and Receive.
func (cc *ClientConn) SetDeadline(t time.Time) error { return cc.nc.SetDeadline(t) }

// Close closes the connection.
func (cc *ClientConn) Close() error { return cc.nc.Close() }

func wireError(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, http1.ErrHeaderTooLarge):
		return fmt.Errorf("%w: %v", ErrHeaderTooLarge, err)
	case errors.Is(err, http1.ErrUnsupportedVersion):
		return fmt.Errorf("%w: %v", ErrUnsupportedVersion, err)
	case errors.Is(err, http1.ErrMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, strings.TrimPrefix(err.Error(), "http1: "))
	case errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
