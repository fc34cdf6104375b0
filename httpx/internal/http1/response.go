package http1

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParsedResponse is a response head read from the wire plus its body reader.
type ParsedResponse struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     map[string][]string
	// ContentLength is -1 for chunked or close-delimited bodies.
	ContentLength int64
	Body          io.ReadCloser
	// Close is set when the peer will close the connection after this response.
	Close bool
}

// ReadResponse reads the next response to a request sent with method.
// Interim 1xx responses are returned like any other; callers skip them.
func (r *Reader) ReadResponse(method string) (*ParsedResponse, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	proto, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformed, line)
	}
	if _, _, err := parseVersion(proto); err != nil {
		return nil, err
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, code)
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, code)
	}
	hdr, err := r.readHeaders()
	if err != nil {
		return nil, err
	}
	pr := &ParsedResponse{
		Proto:         proto,
		StatusCode:    status,
		Reason:        reason,
		Header:        hdr,
		ContentLength: -1,
	}
	conn := strings.ToLower(getHeader(hdr, "Connection"))
	pr.Close = conn == "close" || (proto == "HTTP/1.0" && conn != "keep-alive")

	if method == "HEAD" || (status >= 100 && status < 200) || status == 204 || status == 304 {
		pr.ContentLength = 0
		pr.Body = io.NopCloser(strings.NewReader(""))
		return pr, nil
	}
	chunked, err := transferChunked(hdr)
	if err != nil {
		return nil, err
	}
	if chunked {
		pr.Body = newChunkedBody(r.BR, r.MaxHeaderBytes)
		return pr, nil
	}
	cl, hasCL, err := contentLength(hdr)
	if err != nil {
		return nil, err
	}
	if hasCL {
		pr.ContentLength = cl
		pr.Body = &limitedBody{lr: &io.LimitedReader{R: r.BR, N: cl}}
		return pr, nil
	}
	// Close-delimited body.
	pr.Close = true
	pr.Body = io.NopCloser(r.BR)
	return pr, nil
}
