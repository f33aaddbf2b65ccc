package audit

import (
	"context"
	"log/slog"
	"strings"
)

// Handler is a slog.Handler that copies every record it handles into a Ring
// before passing it to the next handler.
type Handler struct {
	next   slog.Handler
	ring   *Ring
	attrs  []slog.Attr
	groups []string
}

// NewHandler wraps next so that its records are also captured in ring.
func NewHandler(next slog.Handler, ring *Ring) *Handler {
	return &Handler{next: next, ring: ring}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	e := Entry{
		Timestamp: rec.Time,
		Level:     rec.Level.String(),
		Message:   rec.Message,
	}
	fields := make(map[string]string, len(h.attrs)+rec.NumAttrs())
	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		addAttr(fields, "", a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		addAttr(fields, prefix, a)
		return true
	})
	if c, ok := fields["component"]; ok {
		e.Target = c
		delete(fields, "component")
	}
	if len(fields) > 0 {
		e.Fields = fields
	}
	h.ring.Add(e)

	return h.next.Handle(ctx, rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	prefix := strings.Join(h.groups, ".")
	cp.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.next = h.next.WithGroup(name)
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func addAttr(fields map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(fields, key, ga)
		}
		return
	}
	fields[key] = a.Value.String()
}
