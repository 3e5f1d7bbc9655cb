package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	lecerrs "github.com/jdholdren/lectern/internal/errors"
	"github.com/jdholdren/lectern/internal/logger"
)

type EngineConfig struct {
	Registry *Registry
	Resolver Resolver
	// Middleware wraps every handler, the first one being the outermost.
	Middleware []Middleware
	// Debug appends the detail of unexpected errors to the opaque failure message.
	Debug bool
}

// Engine executes messages against the bindings of a registry.
type Engine struct {
	registry   *Registry
	resolver   Resolver
	middleware []Middleware
	debug      bool
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		registry:   cfg.Registry,
		resolver:   cfg.Resolver,
		middleware: cfg.Middleware,
		debug:      cfg.Debug,
	}
}

// Execute runs the call through the middleware chain and its handler.
//
// It never fails: unknown types, bad payloads, errors and panics all end up as failed results.
func (e *Engine) Execute(ctx context.Context, call *Call) (res Result) {
	ctx = logger.Ctx(ctx, slog.String("rpc_type", call.Message.Type))

	defer func() {
		if r := recover(); r != nil {
			res = e.unexpected(ctx, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	if call.Message.Type == "" {
		return Fail(MsgMissingType)
	}
	b, ok := e.registry.Lookup(call.Message.Type)
	if !ok {
		return Fail(fmt.Sprintf(msgNoHandlerTmpl, call.Message.Type))
	}
	call.Binding = b

	req, err := b.decode(call.Message.Payload)
	if err != nil {
		slog.DebugContext(ctx, "invalid rpc payload", "err", err)
		return Fail(fmt.Sprintf("Invalid payload for request `%s`: %s", b.RequestType, err))
	}
	call.Request = req

	res, err = e.chain()(ctx, call)
	if err != nil {
		return e.failure(ctx, err)
	}
	if !res.Success {
		res.Payload = nil
	}

	return res
}

// Builds the chain once per call, the handler invocation being the innermost link.
func (e *Engine) chain() Next {
	next := e.invoke
	for i := len(e.middleware) - 1; i >= 0; i-- {
		mw, inner := e.middleware[i], next
		next = func(ctx context.Context, call *Call) (Result, error) {
			return mw.Handle(ctx, call, inner)
		}
	}
	return next
}

func (e *Engine) invoke(ctx context.Context, call *Call) (Result, error) {
	instance, err := e.resolver.Resolve(ctx, call.Binding.HandlerKey)
	if err != nil {
		return Result{}, fmt.Errorf("error resolving handler: %w", err)
	}

	return call.Binding.invoke(ctx, instance, call)
}

// Client errors are shown as they are, anything else is hidden behind the opaque message.
func (e *Engine) failure(ctx context.Context, err error) Result {
	if lerr, ok := lecerrs.As(err); ok && lerr.UserFacing() {
		slog.DebugContext(ctx, "rpc failed", "err", err)
		return Fail(lerr.Messages()...)
	}

	return e.unexpected(ctx, err)
}

func (e *Engine) unexpected(ctx context.Context, err error) Result {
	slog.ErrorContext(ctx, "unexpected rpc error", logger.Err(err))
	if e.debug {
		return Fail(MsgUnexpected, err.Error())
	}

	return Fail(MsgUnexpected)
}
