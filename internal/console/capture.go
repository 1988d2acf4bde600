package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ComponentKey is the attribute that selects which capture buffer receives a record.
const ComponentKey = "component"

// CaptureHandler forwards every record to an inner handler and additionally
// copies records whose component attribute names a captured category into
// that category's Buffer.
type CaptureHandler struct {
	inner     slog.Handler
	buffers   map[string]*Buffer
	component string
	prefix    string // group prefix for attribute keys
	preset    string // formatted attributes added with WithAttrs
}

// NewCaptureHandler wraps inner, capturing the given categories into buffers
// of the given capacity.
func NewCaptureHandler(inner slog.Handler, capacity int, categories ...string) *CaptureHandler {
	buffers := make(map[string]*Buffer, len(categories))
	for _, c := range categories {
		buffers[c] = NewBuffer(capacity)
	}
	return &CaptureHandler{inner: inner, buffers: buffers}
}

// Buffer returns the capture buffer for category, or nil if it is not captured.
func (h *CaptureHandler) Buffer(category string) *Buffer {
	return h.buffers[category]
}

// Categories returns the captured category names.
func (h *CaptureHandler) Categories() []string {
	out := make([]string, 0, len(h.buffers))
	for c := range h.buffers {
		out = append(out, c)
	}
	return out
}

// Enabled implements slog.Handler.
func (h *CaptureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *CaptureHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	var sb strings.Builder
	sb.WriteString(h.preset)

	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == ComponentKey {
			component = a.Value.String()
			return true
		}
		writeAttr(&sb, h.prefix, a)
		return true
	})

	if buf, ok := h.buffers[component]; ok {
		buf.Append(fmt.Sprintf("%s %-5s %s%s",
			r.Time.Format("15:04:05.000"), r.Level.String(), r.Message, sb.String()))
	}

	return h.inner.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)

	var sb strings.Builder
	sb.WriteString(h.preset)
	for _, a := range attrs {
		if h.prefix == "" && a.Key == ComponentKey {
			next.component = a.Value.String()
			continue
		}
		writeAttr(&sb, h.prefix, a)
	}
	next.preset = sb.String()
	return &next
}

// WithGroup implements slog.Handler.
func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.inner = h.inner.WithGroup(name)
	next.prefix = h.prefix + name + "."
	return &next
}

func writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(sb, p, ga)
		}
		return
	}
	fmt.Fprintf(sb, " %s%s=%v", prefix, a.Key, a.Value.Any())
}
