package httpx

import (
	"strings"
)

const (
	// maxTraceStateMembers is the W3C limit on tracestate list members.
	maxTraceStateMembers = 32
	// maxTraceStateLen is the rendered size propagated at most.
	maxTraceStateLen = 512
)

// TraceStateBuilder provides safe construction of a W3C tracestate header value.
// It performs basic key/value validation and ordering (most-recent first).
type TraceStateBuilder struct {
	order []string          // keys in order
	kv    map[string]string // normalized key -> value
}

// NewTraceStateBuilder parses an existing tracestate string. Invalid and
// duplicate members are dropped, as are members past the 32nd.
func NewTraceStateBuilder(v string) *TraceStateBuilder {
	b := &TraceStateBuilder{kv: make(map[string]string)}
	for _, part := range strings.Split(v, ",") {
		if len(b.order) == maxTraceStateMembers {
			break
		}
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		if !validTSKey(k) || !validTSValue(val) {
			continue
		}
		if _, dup := b.kv[k]; dup {
			continue
		}
		b.kv[k] = val
		b.order = append(b.order, k)
	}
	return b
}

// Set inserts or updates key with value. Newly set keys move to the front.
// Returns false if key/value invalid.
func (b *TraceStateBuilder) Set(key, value string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	v := strings.TrimSpace(value)
	if !validTSKey(k) || !validTSValue(v) {
		return false
	}
	if _, ok := b.kv[k]; ok {
		for i, ek := range b.order {
			if ek == k {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.kv[k] = v
	b.order = append([]string{k}, b.order...)
	if len(b.order) > maxTraceStateMembers {
		delete(b.kv, b.order[maxTraceStateMembers])
		b.order = b.order[:maxTraceStateMembers]
	}
	return true
}

// Len returns the number of members.
func (b *TraceStateBuilder) Len() int { return len(b.order) }

// String renders the tracestate. Trailing members that would push the value
// past 512 bytes are left out whole.
func (b *TraceStateBuilder) String() string {
	var sb strings.Builder
	for _, k := range b.order {
		member := k + "=" + b.kv[k]
		n := len(member)
		if sb.Len() > 0 {
			n++
		}
		if sb.Len()+n > maxTraceStateLen {
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(member)
	}
	return sb.String()
}

// Basic key validation per W3C (simplified): key or key@tenant, lower-case a-z0-9 and _-*./
func validTSKey(k string) bool {
	if k == "" || len(k) > 256 {
		return false
	}
	tenant, system, hasAt := strings.Cut(k, "@")
	if hasAt && (system == "" || strings.Contains(system, "@")) {
		return false
	}
	for _, p := range []string{tenant, system} {
		for i := 0; i < len(p); i++ {
			c := p[i]
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '*' || c == '/' || c == '.' {
				continue
			}
			return false
		}
	}
	return tenant != ""
}

// Basic value validation: disallow control chars, commas and '='.
func validTSValue(v string) bool {
	if v == "" || len(v) > 256 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x20 || c >= 0x7f || c == ',' || c == '=' {
			return false
		}
	}
	return true
}
