package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrMalformed reports a framing violation: bad start line, bad header
	// syntax, conflicting or invalid body length, broken chunk framing.
	ErrMalformed = errors.New("http1: malformed message")
	// ErrHeaderTooLarge reports a line or header block over its budget.
	ErrHeaderTooLarge = errors.New("http1: header too large")
	// ErrUnsupportedVersion reports a well-formed HTTP version other than 1.0/1.1.
	ErrUnsupportedVersion = errors.New("http1: unsupported protocol version")
)

// maxLeadingEmptyLines bounds the CRLFs tolerated before a request line.
const maxLeadingEmptyLines = 4

// ParsedRequest is a minimal representation parsed from the wire.
type ParsedRequest struct {
	Method     string
	RequestURI string
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     map[string][]string
	// ContentLength is -1 for chunked bodies.
	ContentLength int64
	Chunked       bool
	Body          io.ReadCloser
}

// Reader decodes HTTP/1.x messages from BR. MaxHeaderBytes limits a single
// line, MaxTotalHeaderBytes the whole header block; zero disables a limit.
type Reader struct {
	BR                  *bufio.Reader
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
}

// ReadRequest reads the next request head and prepares its body reader.
// It returns io.EOF only when the stream ends cleanly before any byte of a
// new request.
func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	line, err := r.readLine()
	for skipped := 0; err == nil && line == ""; skipped++ {
		if skipped == maxLeadingEmptyLines {
			return nil, fmt.Errorf("%w: empty request line", ErrMalformed)
		}
		line, err = r.readLine()
	}
	if err != nil {
		return nil, err
	}
	method, rest, ok := strings.Cut(line, " ")
	var uri, proto string
	if ok {
		uri, proto, ok = strings.Cut(rest, " ")
	}
	if !ok || strings.Contains(proto, " ") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	if !validToken(method) {
		return nil, fmt.Errorf("%w: method %q", ErrMalformed, method)
	}
	if !validTarget(uri) {
		return nil, fmt.Errorf("%w: request target %q", ErrMalformed, uri)
	}
	major, minor, err := parseVersion(proto)
	if err != nil {
		return nil, err
	}
	hdr, err := r.readHeaders()
	if err != nil {
		return nil, err
	}
	pr := &ParsedRequest{
		Method:     method,
		RequestURI: uri,
		Proto:      proto,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     hdr,
	}
	chunked, err := transferChunked(hdr)
	if err != nil {
		return nil, err
	}
	cl, hasCL, err := contentLength(hdr)
	if err != nil {
		return nil, err
	}
	// Decide body source: chunked TE, else Content-Length, else empty
	switch {
	case chunked && hasCL:
		return nil, fmt.Errorf("%w: both Transfer-Encoding and Content-Length", ErrMalformed)
	case chunked:
		pr.Chunked = true
		pr.ContentLength = -1
		pr.Body = newChunkedBody(r.BR, r.MaxHeaderBytes)
	case cl > 0:
		pr.ContentLength = cl
		pr.Body = &limitedBody{lr: &io.LimitedReader{R: r.BR, N: cl}}
	default:
		pr.Body = io.NopCloser(strings.NewReader(""))
	}
	return pr, nil
}

func (r *Reader) readHeaders() (map[string][]string, error) {
	h := make(map[string][]string)
	total := 0
	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			break
		}
		total += len(line) + 2
		if r.MaxTotalHeaderBytes > 0 && total > r.MaxTotalHeaderBytes {
			return nil, ErrHeaderTooLarge
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, fmt.Errorf("%w: obsolete line folding", ErrMalformed)
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok || !validToken(k) {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		v = strings.Trim(v, " \t")
		if !validFieldValue(v) {
			return nil, fmt.Errorf("%w: value of header %q", ErrMalformed, k)
		}
		addHeader(h, k, v)
	}
	return h, nil
}

func (r *Reader) readLine() (string, error) {
	return readLineLimit(r.BR, r.MaxHeaderBytes)
}

func parseVersion(proto string) (major, minor int, err error) {
	if len(proto) != len("HTTP/1.1") || !strings.HasPrefix(proto, "HTTP/") || proto[6] != '.' ||
		!isDigit(proto[5]) || !isDigit(proto[7]) {
		return 0, 0, fmt.Errorf("%w: protocol %q", ErrMalformed, proto)
	}
	major, minor = int(proto[5]-'0'), int(proto[7]-'0')
	if major != 1 || minor > 1 {
		return major, minor, fmt.Errorf("%w: %s", ErrUnsupportedVersion, proto)
	}
	return major, minor, nil
}

// transferChunked reports whether the message body is chunked. Any other
// transfer coding leaves the length undeterminable and is rejected.
func transferChunked(h map[string][]string) (bool, error) {
	vv, ok := h[canonicalHeaderKey("Transfer-Encoding")]
	if !ok {
		return false, nil
	}
	var codings []string
	for _, v := range vv {
		for _, c := range strings.Split(v, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				codings = append(codings, c)
			}
		}
	}
	if len(codings) != 1 || codings[0] != "chunked" {
		return false, fmt.Errorf("%w: unsupported Transfer-Encoding %q", ErrMalformed, strings.Join(vv, ", "))
	}
	return true, nil
}

// contentLength accepts repeated Content-Length values only when identical.
func contentLength(h map[string][]string) (int64, bool, error) {
	vv, ok := h[canonicalHeaderKey("Content-Length")]
	if !ok {
		return 0, false, nil
	}
	var n int64 = -1
	for _, v := range vv {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			m, err := parseLength(part)
			if err != nil {
				return 0, true, err
			}
			if n >= 0 && m != n {
				return 0, true, fmt.Errorf("%w: conflicting Content-Length values", ErrMalformed)
			}
			n = m
		}
	}
	if n < 0 {
		return 0, true, fmt.Errorf("%w: empty Content-Length", ErrMalformed)
	}
	return n, true, nil
}

func parseLength(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty Content-Length", ErrMalformed)
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, fmt.Errorf("%w: Content-Length %q", ErrMalformed, s)
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: Content-Length %q", ErrMalformed, s)
	}
	return n, nil
}

type limitedBody struct {
	lr *io.LimitedReader
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.lr.Read(p)
	if err == io.EOF && b.lr.N > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (b *limitedBody) Close() error {
	// Drain remaining bytes to allow next request on the same connection.
	_, err := io.Copy(io.Discard, b.lr)
	return err
}

func addHeader(h map[string][]string, k, v string) {
	hk := canonicalHeaderKey(k)
	h[hk] = append(h[hk], v)
}

func getHeader(h map[string][]string, k string) string {
	hk := canonicalHeaderKey(k)
	if vv, ok := h[hk]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

// Very small canonicalizer to avoid importing textproto here.
func canonicalHeaderKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = byte(c - 'a' + 'A')
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
