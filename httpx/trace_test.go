package httpx

import (
	"context"
	"strings"
	"testing"
)

func TestParseTraceparent(t *testing.T) {
	tid, sid, fl, ok := parseTraceparent("00-0AF7651916CD43DD8448EB211C80319C-B7AD6B7169203331-01")
	if !ok {
		t.Fatal("valid traceparent rejected")
	}
	if tid != "0af7651916cd43dd8448eb211c80319c" || sid != "b7ad6b7169203331" || fl != "01" {
		t.Fatalf("tid=%s sid=%s flags=%s", tid, sid, fl)
	}

	for _, v := range []string{
		"",
		"00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331",
		"ff-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		"00-00000000000000000000000000000000-b7ad6b7169203331-01",
		"00-0af7651916cd43dd8448eb211c80319c-0000000000000000-01",
		"00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01-extra",
		"00-0af7651916cd43dd8448eb211c80319z-b7ad6b7169203331-01",
	} {
		if _, _, _, ok := parseTraceparent(v); ok {
			t.Fatalf("accepted %q", v)
		}
	}
}

func TestInboundTrace(t *testing.T) {
	h := Header{}
	h.Set("Traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-00")
	h.Add("Tracestate", "congo=t61rcWkgMzE")
	h.Add("Tracestate", "bad key=x, rojo=00f067aa0ba902b7")

	tr, state := inboundTrace(h)
	if tr.TraceID != "0af7651916cd43dd8448eb211c80319c" || tr.ParentSpanID != "b7ad6b7169203331" || tr.Flags != "00" {
		t.Fatalf("trace=%+v", tr)
	}
	if len(tr.SpanID) != 16 || tr.SpanID == tr.ParentSpanID {
		t.Fatalf("span=%q parent=%q", tr.SpanID, tr.ParentSpanID)
	}
	if state != "congo=t61rcWkgMzE,rojo=00f067aa0ba902b7" {
		t.Fatalf("tracestate=%q", state)
	}

	fresh, state := inboundTrace(Header{})
	if len(fresh.TraceID) != 32 || fresh.ParentSpanID != "" || state != "" {
		t.Fatalf("fresh=%+v state=%q", fresh, state)
	}
	if !strings.HasPrefix(fresh.Traceparent(), "00-"+fresh.TraceID+"-") {
		t.Fatalf("traceparent=%q", fresh.Traceparent())
	}
}

func TestTraceContext(t *testing.T) {
	tr := Trace{TraceID: "0123456789abcdef0123456789abcdef", SpanID: "0123456789abcdef", Flags: "01"}
	got, ok := TraceFrom(WithTrace(context.Background(), tr))
	if !ok || got != tr {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if _, ok := TraceFrom(context.Background()); ok {
		t.Fatal("trace found in empty context")
	}
}

func TestLogFields(t *testing.T) {
	if f := LogFields(context.Background()); len(f) != 0 {
		t.Fatalf("fields=%v", f)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithCorrelationID(ctx, "")
	ctx = WithTrace(ctx, Trace{TraceID: "0123456789abcdef0123456789abcdef", SpanID: "0123456789abcdef"})

	got := map[string]string{}
	for _, f := range LogFields(ctx) {
		got[f.Key] = f.String
	}
	want := map[string]string{
		"request_id": "req-1",
		"trace_id":   "0123456789abcdef0123456789abcdef",
		"span_id":    "0123456789abcdef",
	}
	if len(got) != len(want) {
		t.Fatalf("fields=%v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s=%q want %q", k, got[k], v)
		}
	}
}
