package httpx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dqx0.com/go/website/httpx/internal/http1"
	"dqx0.com/go/website/internal/obs"
)

const (
	DefaultMaxHeaderBytes      = 8 << 10
	DefaultMaxTotalHeaderBytes = 64 << 10
	DefaultMaxBodyBytes        = 10 << 20
	DefaultMaxPipelined        = 64

	// lingerTimeout bounds how long a closing connection waits for the
	// peer to stop sending before the socket is closed.
	lingerTimeout = 500 * time.Millisecond
)

// Executor runs tasks serially. A connection's pipeline state is only
// touched from tasks submitted to its executor. Execute reports false when
// the executor no longer accepts work.
type Executor interface {
	Execute(task func()) bool
}

// Pipeline decodes requests from a connection, hands each to Responder and
// encodes the responses back in request order. One Pipeline serves any
// number of connections; it must not be modified once in use.
type Pipeline[R Responder] struct {
	Responder R
	Logger    *zap.Logger
	Meter     obs.Meter

	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
	MaxBodyBytes        int64
	// MaxPipelined bounds the requests of one connection that are read but
	// not yet answered.
	MaxPipelined int

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
}

func (p *Pipeline[R]) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Pipeline[R]) meter() obs.Meter {
	if p.Meter == nil {
		return obs.NopMeter{}
	}
	return p.Meter
}

func (p *Pipeline[R]) headerLimit() int {
	if p.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return p.MaxHeaderBytes
}

func (p *Pipeline[R]) totalHeaderLimit() int {
	if p.MaxTotalHeaderBytes <= 0 {
		return DefaultMaxTotalHeaderBytes
	}
	return p.MaxTotalHeaderBytes
}

func (p *Pipeline[R]) bodyLimit() int64 {
	if p.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return p.MaxBodyBytes
}

func (p *Pipeline[R]) maxPipelined() int {
	if p.MaxPipelined <= 0 {
		return DefaultMaxPipelined
	}
	return p.MaxPipelined
}

// ServeConn serves nc until the peer closes it, a protocol error occurs, a
// response asks for close, or ctx is done. It closes nc before returning.
// ex must run tasks serially; every state change of the connection's
// response queue happens inside a task on ex.
func (p *Pipeline[R]) ServeConn(ctx context.Context, nc net.Conn, ex Executor) {
	ctx, cancel := context.WithCancel(ctx)
	slots := p.maxPipelined()
	c := &conn[R]{
		p:          p,
		nc:         nc,
		ex:         ex,
		ctx:        ctx,
		cancel:     cancel,
		log:        p.logger().With(zap.String("remote", remoteAddr(nc))),
		meter:      p.meter(),
		br:         bufio.NewReader(nc),
		bw:         bufio.NewWriter(nc),
		tokens:     make(chan struct{}, slots),
		out:        make(chan *frame, 2*slots+2),
		readerDone: make(chan struct{}),
	}
	c.meter.ConnectionOpened()
	defer c.meter.ConnectionClosed()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()
	c.readLoop()
	<-writerDone
}

// frame is one entry of a connection's response queue.
type frame struct {
	// interim marks a 100 Continue sent ahead of the request's body.
	interim bool
	req     *Request
	method  string
	proto   string
	minor   int
	resp    *Response
	ready   bool
	// keepAlive is false on the last frame of the connection.
	keepAlive bool
	// token is set on frames holding one of the connection's pipeline slots.
	token bool
	start time.Time
}

type conn[R Responder] struct {
	p      *Pipeline[R]
	nc     net.Conn
	ex     Executor
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	meter  obs.Meter
	br     *bufio.Reader
	bw     *bufio.Writer

	tokens     chan struct{}
	out        chan *frame
	readerDone chan struct{}

	// Owned by the executor.
	queue     []*frame
	closing   bool
	outClosed bool
}

// post runs task on the connection's executor, tearing the connection down
// if the executor is gone.
func (c *conn[R]) post(task func()) bool {
	if c.ex.Execute(task) {
		return true
	}
	c.abort()
	return false
}

func (c *conn[R]) abort() {
	c.cancel()
	_ = c.nc.Close()
}

func (c *conn[R]) acquire() bool {
	select {
	case c.tokens <- struct{}{}:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *conn[R]) release() { <-c.tokens }

func (c *conn[R]) readLoop() {
	defer close(c.readerDone)
	rd := &http1.Reader{BR: c.br, MaxHeaderBytes: c.p.headerLimit(), MaxTotalHeaderBytes: c.p.totalHeaderLimit()}
	for first := true; ; first = false {
		if !c.acquire() {
			return
		}
		c.setReadDeadline(first)
		pr, err := rd.ReadRequest()
		if err != nil {
			c.readFailed(err, "")
			return
		}
		start := time.Now()
		c.setBodyDeadline()
		req, err := c.newRequest(pr)
		if err != nil {
			c.readFailed(err, pr.Proto)
			return
		}
		if err := c.expect(pr); err != nil {
			c.readFailed(err, pr.Proto)
			return
		}
		body, err := c.readBody(pr)
		if err != nil {
			c.readFailed(err, pr.Proto)
			return
		}
		_ = c.nc.SetReadDeadline(time.Time{})
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))

		keepAlive := wantsKeepAlive(pr.ProtoMinor, req.Header)
		req.Close = !keepAlive
		f := &frame{
			req:       req,
			method:    req.Method,
			proto:     req.Proto,
			minor:     req.ProtoMinor,
			keepAlive: keepAlive,
			token:     true,
			start:     start,
		}
		if !c.post(func() { c.enqueue(f) }) || !keepAlive {
			return
		}
	}
}

func (c *conn[R]) setReadDeadline(first bool) {
	d := c.p.IdleTimeout
	if first || d <= 0 {
		d = c.p.ReadHeaderTimeout
	}
	if d <= 0 {
		d = c.p.IdleTimeout
	}
	if d > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}
}

// setBodyDeadline bounds the read of a request body, including the wait
// for the peer after a 100 Continue.
func (c *conn[R]) setBodyDeadline() {
	d := c.p.ReadHeaderTimeout
	if d <= 0 {
		d = c.p.IdleTimeout
	}
	if d > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}
}

// readFailed ends reading. Protocol errors are answered with a final error
// response; EOF, timeouts and transport errors close once pending responses
// are out. The caller holds a token.
func (c *conn[R]) readFailed(err error, proto string) {
	status, reason, ok := protocolError(err)
	if !ok {
		c.release()
		if !errors.Is(err, io.EOF) {
			c.log.Debug("connection read ended", zap.Error(err))
		}
		c.post(c.finish)
		return
	}
	c.meter.ProtocolError(reason)
	c.log.Debug("protocol error", zap.String("reason", reason), zap.Int("status", status), zap.Error(err))
	f := &frame{
		proto: proto,
		minor: 1,
		resp:  errorResponse(status),
		ready: true,
		token: true,
		start: time.Now(),
	}
	if proto == "HTTP/1.0" {
		f.minor = 0
	}
	if c.post(func() { c.enqueue(f) }) {
		// Discard what the peer still sends until teardown closes the socket.
		_, _ = io.Copy(io.Discard, c.br)
	}
}

// protocolError maps a decode failure to its status and metric reason.
// ok is false for errors that are not the peer's protocol violation.
func protocolError(err error) (status int, reason string, ok bool) {
	switch {
	case errors.Is(err, http1.ErrHeaderTooLarge):
		return 431, "header_too_large", true
	case errors.Is(err, http1.ErrUnsupportedVersion):
		return 505, "unsupported_version", true
	case errors.Is(err, ErrBodyTooLarge):
		return 413, "body_too_large", true
	case errors.Is(err, ErrExpectation):
		return 417, "expectation_failed", true
	case errors.Is(err, http1.ErrMalformed), errors.Is(err, ErrBadRequest):
		return 400, "malformed", true
	}
	return 0, "", false
}

func (c *conn[R]) newRequest(pr *http1.ParsedRequest) (*Request, error) {
	h := Header(pr.Header)
	hosts := h.Values("Host")
	if len(hosts) > 1 || (pr.ProtoMinor == 1 && len(hosts) == 0) {
		return nil, fmt.Errorf("%w: %d Host headers", ErrBadRequest, len(hosts))
	}
	u, err := requestURL(pr.Method, pr.RequestURI)
	if err != nil {
		return nil, err
	}
	host := h.Get("Host")
	if u.Host != "" {
		host = u.Host
	}
	req := &Request{
		Method:     pr.Method,
		URL:        u,
		RequestURI: pr.RequestURI,
		Proto:      pr.Proto,
		ProtoMajor: pr.ProtoMajor,
		ProtoMinor: pr.ProtoMinor,
		Header:     h,
		Host:       host,
		RemoteAddr: remoteAddr(c.nc),
	}

	req.RequestID = h.Get("X-Request-ID")
	if !validID(req.RequestID) {
		req.RequestID = genID()
	}
	req.CorrelationID = h.Get("X-Correlation-ID")
	if !validID(req.CorrelationID) {
		req.CorrelationID = req.RequestID
	}
	tr, state := inboundTrace(h)
	req.TraceID, req.SpanID, req.ParentSpanID, req.TraceState = tr.TraceID, tr.SpanID, tr.ParentSpanID, state

	ctx := WithRequestID(c.ctx, req.RequestID)
	ctx = WithCorrelationID(ctx, req.CorrelationID)
	ctx = WithTrace(ctx, tr)
	req.ctx = ctx
	return req, nil
}

func requestURL(method, target string) (*url.URL, error) {
	var (
		u   *url.URL
		err error
	)
	switch {
	case strings.HasPrefix(target, "/"):
		u, err = url.ParseRequestURI(target)
	case target == "*" && method == "OPTIONS":
		u = &url.URL{Path: "*"}
	case strings.Contains(target, "://"):
		u, err = url.Parse(target)
	case method == "CONNECT":
		u = &url.URL{Host: target}
	default:
		err = errors.New("unsupported form")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: request target %q: %v", ErrBadRequest, target, err)
	}
	return u, nil
}

// expect handles the Expect header before the body is read. A 100-continue
// for a body that will be accepted queues the interim response in order.
func (c *conn[R]) expect(pr *http1.ParsedRequest) error {
	h := Header(pr.Header)
	if len(h.Values("Expect")) == 0 {
		return nil
	}
	if !h.hasToken("Expect", "100-continue") {
		return fmt.Errorf("%w: %q", ErrExpectation, h.Get("Expect"))
	}
	if pr.ContentLength > c.p.bodyLimit() {
		return fmt.Errorf("%w: declared %d bytes", ErrBodyTooLarge, pr.ContentLength)
	}
	if pr.ProtoMinor == 0 || (!pr.Chunked && pr.ContentLength <= 0) {
		return nil
	}
	f := &frame{interim: true, proto: pr.Proto, minor: pr.ProtoMinor, ready: true}
	if !c.post(func() { c.enqueue(f) }) {
		return net.ErrClosed
	}
	return nil
}

func (c *conn[R]) readBody(pr *http1.ParsedRequest) ([]byte, error) {
	defer pr.Body.Close()
	limit := c.p.bodyLimit()
	if pr.ContentLength > limit {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrBodyTooLarge, pr.ContentLength)
	}
	b, err := io.ReadAll(io.LimitReader(pr.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, limit)
	}
	return b, nil
}

func wantsKeepAlive(minor int, h Header) bool {
	if h.hasToken("Connection", "close") {
		return false
	}
	if minor >= 1 {
		return true
	}
	return h.hasToken("Connection", "keep-alive")
}

// enqueue appends f to the response queue and, for a request, starts its
// responder. Runs on the executor.
func (c *conn[R]) enqueue(f *frame) {
	if c.outClosed || c.closing {
		return
	}
	c.queue = append(c.queue, f)
	if f.req != nil {
		go c.dispatch(f)
	}
	c.flush()
}

func (c *conn[R]) dispatch(f *frame) {
	resp := c.p.respond(f.req)
	c.post(func() { c.complete(f, resp) })
}

func (c *conn[R]) complete(f *frame, resp *Response) {
	f.resp = resp
	f.ready = true
	if resp.Close {
		f.keepAlive = false
	}
	c.flush()
}

// finish marks the connection as closing once the queue drains.
func (c *conn[R]) finish() {
	c.closing = true
	c.flush()
}

// flush hands ready frames at the head of the queue to the writer. The out
// buffer holds every frame that can be outstanding, so this never blocks.
func (c *conn[R]) flush() {
	for !c.outClosed && len(c.queue) > 0 && c.queue[0].ready {
		f := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.out <- f
		if !f.interim && !f.keepAlive {
			// Nothing after the last response is written.
			c.closing = true
			c.queue = nil
		}
	}
	if c.closing && len(c.queue) == 0 && !c.outClosed {
		c.outClosed = true
		close(c.out)
	}
}

func (c *conn[R]) writeLoop() {
	defer c.teardown()
	for {
		var (
			f  *frame
			ok bool
		)
		select {
		case f, ok = <-c.out:
		case <-c.ctx.Done():
			return
		}
		if !ok {
			return
		}
		if err := c.write(f); err != nil {
			c.log.Debug("write failed", zap.Error(err))
			c.abort()
			return
		}
		if f.token {
			c.release()
		}
		if !f.interim {
			c.meter.RequestServed(f.resp.status(), time.Since(f.start))
		}
	}
}

func (c *conn[R]) write(f *frame) error {
	if d := c.p.WriteTimeout; d > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(d))
	}
	if f.interim {
		if err := http1.WriteContinue(c.bw, f.proto); err != nil {
			return err
		}
		return c.bw.Flush()
	}
	if err := encode(c.bw, f); err != nil {
		return err
	}
	if len(c.out) == 0 {
		return c.bw.Flush()
	}
	return nil
}

// encode writes f's response. Content-Length is computed from the body
// unless the response is chunked or carries no body.
func encode(bw *bufio.Writer, f *frame) error {
	resp := f.resp
	hdr := resp.Header.Clone()
	hdr.Del("Transfer-Encoding")
	if f.req != nil && hdr.Get("X-Request-ID") == "" {
		hdr.Set("X-Request-ID", f.req.RequestID)
	}
	code := resp.status()
	withBody := bodyAllowed(f.method, code)
	chunked := resp.Chunked && withBody && f.minor >= 1
	switch {
	case chunked:
		hdr.Del("Content-Length")
	case withBody:
		hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	case f.method == "HEAD" || code == 304:
		// A declared length describes the omitted representation.
		if hdr.Get("Content-Length") == "" && len(resp.Body) > 0 {
			hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))
		}
	default:
		hdr.Del("Content-Length")
	}
	if !chunked {
		var body []byte
		if withBody {
			body = resp.Body
		}
		return http1.WriteResponse(bw, f.proto, code, resp.Reason, hdr, body, f.keepAlive)
	}
	if err := http1.StartResponse(bw, f.proto, code, resp.Reason, hdr, true, f.keepAlive); err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		if _, err := http1.WriteChunked(bw, resp.Body); err != nil {
			return err
		}
	}
	return http1.EndChunked(bw)
}

func bodyAllowed(method string, status int) bool {
	if method == "HEAD" {
		return false
	}
	return status >= 200 && status != 204 && status != 304
}

func (c *conn[R]) teardown() {
	_ = c.bw.Flush()
	if cw, ok := c.nc.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	c.cancel()
	// Unread request bytes would turn the close into a reset; give the peer
	// a moment to see the FIN and stop sending.
	t := time.NewTimer(lingerTimeout)
	select {
	case <-c.readerDone:
	case <-t.C:
	}
	t.Stop()
	_ = c.nc.Close()
}

// respond runs the responder adapter: it always yields one response.
func (p *Pipeline[R]) respond(req *Request) *Response {
	resp, err := invoke(p.Responder, req.Context(), req)
	if err == nil {
		return resp
	}
	p.meter().ResponderFailed()
	fields := append(LogFields(req.Context()),
		zap.String("method", req.Method),
		zap.String("target", req.RequestURI),
		zap.Error(err))
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.ByteString("stack", pe.Stack))
	}
	p.logger().Error("responder failed", fields...)
	return errorResponse(errorStatus(err))
}

func remoteAddr(nc net.Conn) string {
	if a := nc.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
