// Package responder holds the demo responders the website binary can serve.
package responder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"dqx0.com/go/website/httpx"
)

// Static answers every request with the same status, content type and body.
type Static struct {
	Status      int
	ContentType string
	Body        []byte
}

func (s *Static) Respond(_ context.Context, _ *httpx.Request) (*httpx.Response, error) {
	return httpx.NewResponse(s.Status, s.ContentType, s.Body), nil
}

// Echo reflects the request line, headers and body back as text/plain.
// A chunked=true query parameter makes the reply chunked.
type Echo struct{}

func (Echo) Respond(_ context.Context, req *httpx.Request) (*httpx.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s\n", req.Method, req.RequestURI, req.Proto)
	for _, k := range slices.Sorted(maps.Keys(req.Header)) {
		for _, v := range req.Header[k] {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	fmt.Fprintf(&b, "X-Request-ID: %s\n", req.RequestID)
	if len(body) > 0 {
		b.WriteString("\n")
		b.Write(body)
	}
	resp := httpx.NewResponse(200, "text/plain; charset=utf-8", b.Bytes())
	resp.Chunked = strings.EqualFold(req.URL.Query().Get("chunked"), "true")
	return resp, nil
}

// New returns the responder for mode.
func New(mode string, status int, contentType, body string) (httpx.Responder, error) {
	switch mode {
	case "static":
		return &Static{Status: status, ContentType: contentType, Body: []byte(body)}, nil
	case "echo":
		return Echo{}, nil
	}
	return nil, fmt.Errorf("unknown responder mode %q", mode)
}
