package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Binding ties a request type name to the handler serving it, along with the policies the
// middleware enforces for it.
type Binding struct {
	// RequestType is the name messages are dispatched by.
	RequestType string
	// HandlerKey is given to the [Resolver] to get the handler instance.
	HandlerKey string
	// RequiresAuth rejects anonymous sessions. Handlers without it are public.
	RequiresAuth bool
	// RequiresTransaction runs the handler inside a single transaction.
	RequiresTransaction bool
	// Flags are free-form switches for custom middleware.
	Flags map[string]bool

	decode  func(payload json.RawMessage) (any, error)
	accepts func(instance any) bool
	invoke  func(ctx context.Context, instance any, call *Call) (Result, error)
}

// Flag reports whether the named flag is set on the binding.
func (b *Binding) Flag(name string) bool {
	return b.Flags[name]
}

// Registry is the table of bindings, built once at startup and only read afterwards.
type Registry struct {
	bindings map[string]*Binding
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]*Binding)}
}

// Register binds the request type to a handler of Req returning Resp.
func Register[Req, Resp any](r *Registry, b Binding) error {
	if b.RequestType == "" {
		return errors.New("binding is missing its request type")
	}
	if b.HandlerKey == "" {
		return fmt.Errorf("binding %q is missing its handler key", b.RequestType)
	}
	if _, ok := r.bindings[b.RequestType]; ok {
		return fmt.Errorf("request type %q is already bound", b.RequestType)
	}

	b.decode = func(payload json.RawMessage) (any, error) {
		req := new(Req)
		trimmed := bytes.TrimSpace(payload)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return req, nil
		}
		if err := json.Unmarshal(trimmed, req); err != nil {
			return nil, err
		}
		return req, nil
	}
	b.accepts = func(instance any) bool {
		_, ok := instance.(Handler[Req, Resp])
		return ok
	}
	b.invoke = func(ctx context.Context, instance any, call *Call) (Result, error) {
		h, ok := instance.(Handler[Req, Resp])
		if !ok {
			return Result{}, fmt.Errorf("handler %q (%T) does not handle %s", b.HandlerKey, instance, b.RequestType)
		}
		req, ok := call.Request.(*Req)
		if !ok {
			return Result{}, fmt.Errorf("request of %s has unexpected type %T", b.RequestType, call.Request)
		}

		resp, err := h.Handle(ctx, call, req)
		if err != nil {
			return Result{}, err
		}

		switch v := any(resp).(type) {
		case Void, *Void:
			return OK(nil), nil
		case Result:
			return v, nil
		case *Result:
			if v == nil {
				return OK(nil), nil
			}
			return *v, nil
		default:
			return OK(resp), nil
		}
	}

	r.bindings[b.RequestType] = &b
	r.order = append(r.order, b.RequestType)
	return nil
}

// MustRegister is like [Register] but panics on error, for static wiring.
func MustRegister[Req, Resp any](r *Registry, b Binding) {
	if err := Register[Req, Resp](r, b); err != nil {
		panic(err)
	}
}

// Lookup returns the binding of the request type.
func (r *Registry) Lookup(requestType string) (*Binding, bool) {
	b, ok := r.bindings[requestType]
	return b, ok
}

// Bindings lists the bindings in registration order.
func (r *Registry) Bindings() []*Binding {
	ret := make([]*Binding, 0, len(r.order))
	for _, name := range r.order {
		ret = append(ret, r.bindings[name])
	}
	return ret
}

// Verify resolves every handler once, failing when one can't be resolved or doesn't handle the
// request and response types it was bound with.
func (r *Registry) Verify(ctx context.Context, resolver Resolver) error {
	var errs []error
	for _, b := range r.Bindings() {
		instance, err := resolver.Resolve(ctx, b.HandlerKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("error resolving handler of %s: %w", b.RequestType, err))
			continue
		}
		if !b.accepts(instance) {
			errs = append(errs, fmt.Errorf("handler %q (%T) does not match the types bound to %s", b.HandlerKey, instance, b.RequestType))
		}
	}

	return errors.Join(errs...)
}
