package httpx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// genTraceID returns 32 lowercase hex digits. A random UUID is never all zeros.
func genTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func genSpanID() string {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err == nil && b != [8]byte{} {
			return hex.EncodeToString(b[:])
		}
		// retry on error or all-zero
	}
}

// parseTraceparent extracts trace-id, span-id, flags. Returns ok=false if invalid.
func parseTraceparent(v string) (traceID, spanID, flags string, ok bool) {
	if v == "" {
		return "", "", "", false
	}
	v = strings.TrimSpace(v)
	parts := strings.Split(v, "-")
	if len(parts) < 4 {
		return "", "", "", false
	}
	ver, tid, sid, fl := parts[0], parts[1], parts[2], parts[3]
	if len(ver) != 2 || len(tid) != 32 || len(sid) != 16 || len(fl) != 2 {
		return "", "", "", false
	}
	// Version ff is forbidden; version 00 has exactly four fields.
	if !isHex(ver) || strings.EqualFold(ver, "ff") || (ver == "00" && len(parts) != 4) {
		return "", "", "", false
	}
	if !isHex(tid) || !isHex(sid) || !isHex(fl) {
		return "", "", "", false
	}
	if tid == strings.Repeat("0", 32) || sid == strings.Repeat("0", 16) {
		return "", "", "", false
	}
	return strings.ToLower(tid), strings.ToLower(sid), strings.ToLower(fl), true
}

func formatTraceparent(traceID, spanID, flags string) string {
	if flags == "" {
		flags = "01"
	}
	return "00-" + strings.ToLower(traceID) + "-" + strings.ToLower(spanID) + "-" + strings.ToLower(flags)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}

// Trace carries minimal W3C trace context for propagation.
// TraceID is 32‑hex, SpanID is 16‑hex. Flags are 2‑hex (e.g. "01").
type Trace struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Flags        string
}

// Traceparent renders tr as a traceparent header value.
func (tr Trace) Traceparent() string {
	return formatTraceparent(tr.TraceID, tr.SpanID, tr.Flags)
}

// WithTrace stores trace context in ctx.
func WithTrace(ctx context.Context, tr Trace) context.Context {
	return context.WithValue(ctx, ctxKeyTrace, tr)
}

// TraceFrom extracts trace context from ctx.
func TraceFrom(ctx context.Context) (Trace, bool) {
	tr, ok := ctx.Value(ctxKeyTrace).(Trace)
	return tr, ok
}

// inboundTrace continues the caller's trace when traceparent is valid and
// starts a new one otherwise. The server always allocates a fresh span.
func inboundTrace(h Header) (Trace, string) {
	tr := Trace{SpanID: genSpanID(), Flags: "01"}
	tid, parent, flags, ok := parseTraceparent(h.Get("Traceparent"))
	if !ok {
		tr.TraceID = genTraceID()
		return tr, ""
	}
	tr.TraceID, tr.ParentSpanID, tr.Flags = tid, parent, flags
	return tr, NewTraceStateBuilder(strings.Join(h.Values("Tracestate"), ",")).String()
}
