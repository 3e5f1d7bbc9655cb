// Package rpc dispatches typed request messages to their handlers.
//
// Handlers are bound to a request type name once at startup through [Register]. Every incoming
// [Message] is then looked up by name, decoded into the bound request type and run through a fixed
// chain of [Middleware] around the handler, coming out as a uniform [Result].
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Fixed messages of failure results.
const (
	MsgUnauthorized  = "Unauthorized."
	MsgUnexpected    = "An unexpected error occurred."
	MsgMissingType   = "Request type is missing."
	msgNoHandlerTmpl = "No RPC handler for request `%s`."
)

// Header names the engine and its middleware read.
const (
	HeaderCookie = "cookie"
	HeaderCSRF   = "x-csrf-token"
)

type (
	// Message is an incoming request: the name of its type, its JSON payload and open-ended headers
	// such as cookies.
	Message struct {
		Type    string            `json:"type"`
		Payload json.RawMessage   `json:"payload,omitempty"`
		Headers map[string]string `json:"headers,omitempty"`
	}

	// Result is the uniform outcome of executing a message. A failed result never has a payload.
	Result struct {
		Success       bool     `json:"success"`
		Payload       any      `json:"payload,omitempty"`
		ErrorMessages []string `json:"errorMessages,omitempty"`
	}

	// Void is the response type of handlers that have nothing to return.
	Void struct{}

	// Auth is the context of an authenticated session.
	Auth struct {
		UserID    int64
		SessionID string
		CSRFToken string
	}
)

// OK creates a successful result.
func OK(payload any) Result {
	return Result{Success: true, Payload: payload}
}

// Fail creates a failed result with the given messages.
func Fail(msgs ...string) Result {
	return Result{Success: false, ErrorMessages: msgs}
}

// Call is the state of one message travelling through the middleware chain.
type Call struct {
	Message Message
	// Binding of the message's type, set once it's been looked up.
	Binding *Binding
	// Request is the decoded payload, a pointer to the bound request type.
	Request any
	// Auth is set by the authorization middleware for authenticated sessions.
	Auth *Auth

	cookies     []*http.Cookie
	inTx        bool
	afterCommit []func()
}

// NewCall prepares a message for execution, lower-casing its header names.
func NewCall(msg Message) *Call {
	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[strings.ToLower(k)] = v
	}
	msg.Headers = headers

	return &Call{Message: msg}
}

// Header returns the value of the named header, ignoring case.
func (c *Call) Header(name string) string {
	return c.Message.Headers[strings.ToLower(name)]
}

// SetCookie queues a cookie to be written by the transport along with the result.
func (c *Call) SetCookie(cookie *http.Cookie) {
	c.cookies = append(c.cookies, cookie)
}

// Cookies returns the cookies queued by handlers.
func (c *Call) Cookies() []*http.Cookie {
	return c.cookies
}

// AfterCommit defers fn until the call's transaction commits, dropping it on rollback.
// Outside a transaction fn runs right away.
func (c *Call) AfterCommit(fn func()) {
	if !c.inTx {
		fn()
		return
	}
	c.afterCommit = append(c.afterCommit, fn)
}

// Handler handles requests of type Req.
type Handler[Req, Resp any] interface {
	Handle(ctx context.Context, call *Call, req *Req) (Resp, error)
}

// Resolver provides handler instances by key, scoped to a single request.
type Resolver interface {
	Resolve(ctx context.Context, key string) (any, error)
}

// Factories resolves handlers by building a fresh instance per request.
type Factories map[string]func(ctx context.Context) (any, error)

func (f Factories) Resolve(ctx context.Context, key string) (any, error) {
	factory, ok := f[key]
	if !ok {
		return nil, fmt.Errorf("no factory for handler %q", key)
	}

	return factory(ctx)
}
