package http1

import (
	"bufio"
	"fmt"
	"maps"
	"slices"
)

// WriteResponse writes a complete length-delimited response. Content-Length
// is taken from hdr; callers that want one must set it. body is written as is.
// hdr keys should be canonicalized by caller.
func WriteResponse(bw *bufio.Writer, proto string, status int, reason string, hdr map[string][]string, body []byte, keepAlive bool) error {
	if err := StartResponse(bw, proto, status, reason, hdr, false, keepAlive); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := bw.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// StartResponse writes the status line and headers, including
// Connection and optional Transfer-Encoding: chunked. It does not
// write any body bytes.
func StartResponse(bw *bufio.Writer, proto string, status int, reason string, hdr map[string][]string, chunked, keepAlive bool) error {
	if reason == "" {
		reason = StatusText(status)
	}
	if _, err := fmt.Fprintf(bw, "%s %03d %s\r\n", statusProto(proto), status, SanitizeHeaderValue(reason)); err != nil {
		return err
	}
	if chunked {
		if _, err := fmt.Fprint(bw, "Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	}
	if err := writeHeaders(bw, hdr, chunked); err != nil {
		return err
	}
	conn := "close"
	if keepAlive {
		conn = "keep-alive"
	}
	if _, err := fmt.Fprintf(bw, "Connection: %s\r\n\r\n", conn); err != nil {
		return err
	}
	return nil
}

// WriteRequest writes a request head followed by body, length-delimited.
func WriteRequest(bw *bufio.Writer, method, target string, hdr map[string][]string, body []byte) error {
	if !validToken(method) || !validTarget(target) {
		return fmt.Errorf("%w: request line %q %q", ErrMalformed, method, target)
	}
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}
	if len(body) > 0 || method == "POST" || method == "PUT" || method == "PATCH" {
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body)); err != nil {
			return err
		}
	}
	if err := writeHeaders(bw, hdr, true); err != nil {
		return err
	}
	for _, v := range hdr["Connection"] {
		if _, err := fmt.Fprintf(bw, "Connection: %s\r\n", SanitizeHeaderValue(v)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := bw.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// writeHeaders emits hdr in key order. Invalid names are dropped, as is any
// user Connection header; framing headers are dropped when skipFraming is set.
func writeHeaders(bw *bufio.Writer, hdr map[string][]string, skipFraming bool) error {
	for _, k := range slices.Sorted(maps.Keys(hdr)) {
		if k == "Connection" || SanitizeHeaderKey(k) == "" {
			continue
		}
		if skipFraming && (k == "Content-Length" || k == "Transfer-Encoding") {
			continue
		}
		for _, v := range hdr[k] {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, SanitizeHeaderValue(v)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteChunked writes one HTTP/1.1 chunk for chunked transfer encoding.
func WriteChunked(bw *bufio.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(bw, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := bw.Write(p); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// EndChunked writes the terminating zero-length chunk.
func EndChunked(bw *bufio.Writer) error {
	if _, err := fmt.Fprint(bw, "0\r\n\r\n"); err != nil {
		return err
	}
	return nil
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Content Too Large"
	case 417:
		return "Expectation Failed"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	case 505:
		return "HTTP Version Not Supported"
	default:
		return ""
	}
}

func statusProto(proto string) string {
	if proto == "HTTP/1.0" {
		return proto
	}
	return "HTTP/1.1"
}
