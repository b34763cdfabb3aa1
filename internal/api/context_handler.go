package api

import (
	"context"
	"log/slog"
)

// contextHandler decorates a slog.Handler with request correlation: when the
// context carries a request_id (set by the RequestID middleware), every
// record gets it as an attribute. Code deep under a handler can then log
// with slog.InfoContext and still produce correlated output.
type contextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps base so context-aware slog calls pick up the
// request ID. Install it once in main:
//
//	base := slog.NewJSONHandler(os.Stdout, nil)
//	slog.SetDefault(slog.New(api.NewContextHandler(base)))
func NewContextHandler(base slog.Handler) slog.Handler {
	return &contextHandler{next: base}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if id := RequestIDFromContext(ctx); id != "" {
		record.AddAttrs(slog.String("request_id", id))
	}
	return h.next.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}
