// Package errors holds the error type shared between the fetcher and the RPC surface.
//
// Errors carry an HTTP-flavoured status (4xx are safe to show to a client, everything else is
// internal) and an optional fingerprint: a stable string used to group the same failure in logs.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a universal error type between the packages.
type Error struct {
	Status      int
	Fingerprint Fingerprint
	Err         error // The error this wraps
	Details     []Detail
}

// Fingerprint is a stable identifier for a class of failure, e.g. FEED_HTTP_REQUEST_FAILED.
type Fingerprint string

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if e.Fingerprint != "" {
		return fmt.Sprintf("%s (%d): %s, details: %v", e.Fingerprint, e.Status, e.Err, e.Details)
	}

	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserFacing reports whether the error's message may be shown to a client.
func (e *Error) UserFacing() bool {
	return e.Status >= 400 && e.Status < 500
}

// Messages returns the human readable messages of the error: one per detail, or the wrapped
// error's message when there are none.
func (e *Error) Messages() []string {
	if len(e.Details) == 0 {
		if e.Err == nil {
			return []string{http.StatusText(e.Status)}
		}
		return []string{e.Err.Error()}
	}

	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		msgs = append(msgs, d.Error)
	}
	return msgs
}

func E(args ...any) *Error {
	ret := &Error{
		Status:  http.StatusInternalServerError,
		Err:     nil,
		Details: nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Fingerprint:
			ret.Fingerprint = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// FingerprintOf returns the first fingerprint found in the error's chain.
func FingerprintOf(err error) Fingerprint {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Fingerprint != "" {
			return e.Fingerprint
		}
		err = e.Err
	}

	return ""
}

// As is a shorthand for [errors.As] against *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}

	return nil, false
}
