package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler is a slog.Handler appending attributes stored
// in a context to every record it handles.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

// ContextAttrs returns a context carrying attrs in addition to
// everything already stored there.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// ContextRunID generates a fresh run id and stores it as a run_id
// attribute in the returned context.
func ContextRunID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return ContextAttrs(ctx, slog.String("run_id", id)), id
}

// New builds the default logger: JSON records on stderr, Info level
// or Debug when verbose is true.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	ctxHandler := NewContextHandler(base)
	return slog.New(ctxHandler)
}
