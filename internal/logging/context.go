package logging

import (
	"context"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	passIDKey ctxKey = iota
	surfaceKey
	placeKey
)

// WithPassID returns a context with the pass ID set.
func WithPassID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, passIDKey, id)
}

// WithSurface returns a context with the surface name set.
func WithSurface(ctx context.Context, surface string) context.Context {
	return context.WithValue(ctx, surfaceKey, surface)
}

// WithPlace returns a context with the place set.
func WithPlace(ctx context.Context, place string) context.Context {
	return context.WithValue(ctx, placeKey, place)
}

// PassID extracts the pass ID from the context, or "" if absent.
func PassID(ctx context.Context) string {
	v, _ := ctx.Value(passIDKey).(string)
	return v
}

// Surface extracts the surface from the context, or "" if absent.
func Surface(ctx context.Context) string {
	v, _ := ctx.Value(surfaceKey).(string)
	return v
}

// Place extracts the place from the context, or "" if absent.
func Place(ctx context.Context) string {
	v, _ := ctx.Value(placeKey).(string)
	return v
}

// WithIDs sets all three correlation values on the context at once.
func WithIDs(ctx context.Context, passID, surface, place string) context.Context {
	ctx = WithPassID(ctx, passID)
	ctx = WithSurface(ctx, surface)
	ctx = WithPlace(ctx, place)
	return ctx
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if v := PassID(ctx); v != "" {
		logger = logger.With(slog.String("pass_id", v))
	}
	if v := Surface(ctx); v != "" {
		logger = logger.With(slog.String("surface", v))
	}
	if v := Place(ctx); v != "" {
		logger = logger.With(slog.String("place", v))
	}
	return logger
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation values from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.WarnContext(ctx, ...) and the pass shows up in every line.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := PassID(ctx); v != "" {
		r.AddAttrs(slog.String("pass_id", v))
	}
	if v := Surface(ctx); v != "" {
		r.AddAttrs(slog.String("surface", v))
	}
	if v := Place(ctx); v != "" {
		r.AddAttrs(slog.String("place", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
