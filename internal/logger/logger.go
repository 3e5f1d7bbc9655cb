// Package logger carries slog attributes through a context so deep call sites log with the
// caller's details attached.
package logger

import (
	"context"
	"log/slog"
	"slices"

	lecerrs "github.com/jdholdren/lectern/internal/errors"
)

type attrsKey struct{}

// ContextHandler wraps a [slog.Handler], adding the attributes stored in the context by [Ctx] to
// every record.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(base slog.Handler) ContextHandler {
	return ContextHandler{Handler: base}
}

func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs := attrsFrom(ctx); len(attrs) > 0 {
		record.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, record)
}

// WithAttrs keeps the derived handler reading from the context.
func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Ctx returns a context carrying attrs on top of the ones ctx already has. They're logged by the
// [ContextHandler] for any record made with the returned context.
func Ctx(ctx context.Context, attrs ...slog.Attr) context.Context {
	// Cloned so sibling contexts never share a backing array.
	merged := append(slices.Clone(attrsFrom(ctx)), attrs...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

func attrsFrom(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	return attrs
}

// Lazy wraps fn so that it's only evaluated when the record is actually emitted.
func Lazy(fn func() any) slog.LogValuer {
	return lazyValue(fn)
}

type lazyValue func() any

func (l lazyValue) LogValue() slog.Value {
	return slog.AnyValue(l())
}

// Err returns an attribute for the error, grouping its fingerprint alongside when it has one.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}

	fp := lecerrs.FingerprintOf(err)
	if fp == "" {
		return slog.String("error", err.Error())
	}

	return slog.Group("error",
		slog.String("message", err.Error()),
		slog.String("fingerprint", string(fp)),
	)
}
