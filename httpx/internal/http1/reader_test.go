package http1

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func readReq(t *testing.T, raw string, maxLine, maxTotal int) (*ParsedRequest, error) {
	t.Helper()
	r := &Reader{BR: bufio.NewReader(strings.NewReader(raw)), MaxHeaderBytes: maxLine, MaxTotalHeaderBytes: maxTotal}
	return r.ReadRequest()
}

func TestReader_ContentLengthBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
	pr, err := readReq(t, raw, 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.ContentLength != 5 {
		t.Fatalf("ContentLength=%d", pr.ContentLength)
	}
	b, _ := io.ReadAll(pr.Body)
	if string(b) != "hello" {
		t.Fatalf("body=%q", string(b))
	}
}

func TestReader_ChunkedBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nhey\r\n2\r\n!!\r\n0\r\n\r\n"
	pr, err := readReq(t, raw, 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.ContentLength != -1 {
		t.Fatalf("ContentLength=%d", pr.ContentLength)
	}
	b, _ := io.ReadAll(pr.Body)
	if string(b) != "hey!!" {
		t.Fatalf("body=%q", string(b))
	}
}

func TestReader_CLTEConflict(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n"
	if _, err := readReq(t, raw, 8<<10, 64<<10); err == nil {
		t.Fatal("expected error for CL/TE conflict")
	}
}

func TestReader_MultipleContentLengthMismatch(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5, 6\r\n\r\n"
	if _, err := readReq(t, raw, 8<<10, 64<<10); err == nil {
		t.Fatal("expected error for mismatched Content-Length")
	}
}

func TestReader_InvalidHeaderName(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nBad( : v\r\n\r\n"
	if _, err := readReq(t, raw, 8<<10, 64<<10); err == nil {
		t.Fatal("expected error for invalid header name")
	}
}

func TestReader_MaxTotalHeaderBytes(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nA: b\r\nC: d\r\nE: f\r\n\r\n"
	if _, err := readReq(t, raw, 8<<10, 6); err == nil { // 3 lines exceed total (approx)
		t.Fatal("expected error for MaxTotalHeaderBytes")
	}
}

func TestReader_CleanEOF(t *testing.T) {
	if _, err := readReq(t, "", 8<<10, 64<<10); err != io.EOF {
		t.Fatalf("err=%v, want io.EOF", err)
	}
	if _, err := readReq(t, "GET / HT", 8<<10, 64<<10); err != io.ErrUnexpectedEOF {
		t.Fatalf("err=%v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReader_LeadingCRLF(t *testing.T) {
	pr, err := readReq(t, "\r\n\r\nGET /x HTTP/1.0\r\n\r\n", 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.RequestURI != "/x" || pr.ProtoMinor != 0 {
		t.Fatalf("uri=%q minor=%d", pr.RequestURI, pr.ProtoMinor)
	}
}

func TestReader_BadRequestLine(t *testing.T) {
	for _, raw := range []string{
		"GET /\r\n\r\n",
		"GET  / HTTP/1.1\r\n\r\n",
		"G(T / HTTP/1.1\r\n\r\n",
		"GET / HTTP/1.1 extra\r\n\r\n",
		"GET / FTP/1.0\r\n\r\n",
	} {
		_, err := readReq(t, raw, 8<<10, 64<<10)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: err=%v, want ErrMalformed", raw, err)
		}
	}
}

func TestReader_UnsupportedVersion(t *testing.T) {
	_, err := readReq(t, "GET / HTTP/2.0\r\n\r\n", 8<<10, 64<<10)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("err=%v, want ErrUnsupportedVersion", err)
	}
}

func TestReader_ObsFold(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\n folded\r\n\r\n"
	if _, err := readReq(t, raw, 8<<10, 64<<10); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err=%v, want ErrMalformed", err)
	}
}

func TestReader_LineTooLong(t *testing.T) {
	raw := "GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n\r\n"
	if _, err := readReq(t, raw, 32, 64<<10); !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("err=%v, want ErrHeaderTooLarge", err)
	}
}

func TestReader_RepeatedContentLength(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 3, 3\r\nContent-Length: 3\r\n\r\nabc"
	pr, err := readReq(t, raw, 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.ContentLength != 3 {
		t.Fatalf("ContentLength=%d", pr.ContentLength)
	}
}

func TestReader_ShortBody(t *testing.T) {
	pr, err := readReq(t, "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nab", 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if _, err := io.ReadAll(pr.Body); err != io.ErrUnexpectedEOF {
		t.Fatalf("err=%v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReader_ChunkedViolations(t *testing.T) {
	for _, raw := range []string{
		"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\nhey\r\n0\r\n\r\n",
		"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nheyXX0\r\n\r\n",
		"POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n-3\r\nhey\r\n0\r\n\r\n",
	} {
		pr, err := readReq(t, raw, 8<<10, 64<<10)
		if err != nil {
			t.Fatalf("ReadRequest error: %v", err)
		}
		if _, err := io.ReadAll(pr.Body); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: err=%v, want ErrMalformed", raw, err)
		}
	}
}

func TestReader_UnsupportedTransferEncoding(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n"
	if _, err := readReq(t, raw, 8<<10, 64<<10); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err=%v, want ErrMalformed", err)
	}
}

func TestReader_PipelinedRequests(t *testing.T) {
	raw := "POST /a HTTP/1.1\r\nContent-Length: 2\r\n\r\nhiGET /b HTTP/1.1\r\n\r\n"
	r := &Reader{BR: bufio.NewReader(strings.NewReader(raw))}
	first, err := r.ReadRequest()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := first.Body.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := r.ReadRequest()
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.RequestURI != "/b" {
		t.Fatalf("uri=%q", second.RequestURI)
	}
}

func TestReader_BareCR(t *testing.T) {
	for _, raw := range []string{
		"GET / HTTP/1.1\r\nHost: x\r\nX-A: a\rb\r\n\r\n",
		"GET /\r HTTP/1.1\r\nHost: x\r\n\r\n",
		"GET / HTTP/1.1\r\nHost: x\r\r\n\r\n",
	} {
		_, err := readReq(t, raw, 8<<10, 64<<10)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: err=%v, want ErrMalformed", raw, err)
		}
	}

	raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\rx\r\nhey\r\n0\r\n\r\n"
	pr, err := readReq(t, raw, 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if _, err := io.ReadAll(pr.Body); !errors.Is(err, ErrMalformed) {
		t.Fatalf("chunk size with bare CR: err=%v", err)
	}
}

func TestReader_LFOnlyLines(t *testing.T) {
	pr, err := readReq(t, "GET /a HTTP/1.1\nHost: x\nX-A: b\n\n", 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if got := getHeader(pr.Header, "X-A"); got != "b" {
		t.Fatalf("X-A=%q", got)
	}
}
