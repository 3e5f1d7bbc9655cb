package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jdholdren/lectern/internal/logger"
)

// Next continues the chain a middleware is part of.
type Next func(ctx context.Context, call *Call) (Result, error)

// Middleware wraps the invocation of a handler. It may reject the call before it reaches the
// handler, produce its own result or alter the one coming back.
type Middleware interface {
	Handle(ctx context.Context, call *Call, next Next) (Result, error)
}

// MiddlewareFunc adapts a function to [Middleware].
type MiddlewareFunc func(ctx context.Context, call *Call, next Next) (Result, error)

func (f MiddlewareFunc) Handle(ctx context.Context, call *Call, next Next) (Result, error) {
	return f(ctx, call, next)
}

// Authenticator finds the session a call belongs to. A nil Auth means the call is anonymous.
type Authenticator interface {
	Authenticate(ctx context.Context, call *Call) (*Auth, error)
}

// Authorization gates handlers requiring auth.
//
// Anonymous calls only reach public handlers. Authenticated calls must also echo the session's
// CSRF token in the x-csrf-token header, otherwise they're treated as anonymous.
func Authorization(authn Authenticator) Middleware {
	return MiddlewareFunc(func(ctx context.Context, call *Call, next Next) (Result, error) {
		auth, err := authn.Authenticate(ctx, call)
		if err != nil {
			return Result{}, fmt.Errorf("error authenticating call: %w", err)
		}

		if auth != nil && !validCSRF(auth.CSRFToken, call.Header(HeaderCSRF)) {
			slog.DebugContext(ctx, "csrf token mismatch", "user_id", auth.UserID)
			auth = nil
		}
		if auth == nil {
			if call.Binding.RequiresAuth {
				return Fail(MsgUnauthorized), nil
			}
			return next(ctx, call)
		}

		call.Auth = auth
		return next(logger.Ctx(ctx, slog.Int64("user_id", auth.UserID)), call)
	})
}

func validCSRF(expected, given string) bool {
	if expected == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}

// Transactor runs fn in a transaction carried by the context.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var errRollback = errors.New("rolling back failed result")

// Transaction runs the rest of the chain inside a transaction for bindings requiring one.
// Failed results are rolled back just like errors.
func Transaction(tx Transactor) Middleware {
	return MiddlewareFunc(func(ctx context.Context, call *Call, next Next) (Result, error) {
		if !call.Binding.RequiresTransaction {
			return next(ctx, call)
		}

		call.inTx = true
		defer func() {
			call.inTx = false
			call.afterCommit = nil
		}()

		var res Result
		err := tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			res, err = next(ctx, call)
			if err != nil {
				return err
			}
			if !res.Success {
				return errRollback
			}
			return nil
		})
		if err != nil && !errors.Is(err, errRollback) {
			return Result{}, err
		}
		if err == nil {
			for _, fn := range call.afterCommit {
				fn()
			}
		}

		return res, nil
	})
}
