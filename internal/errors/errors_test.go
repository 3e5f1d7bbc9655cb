package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	lecerrs "github.com/jdholdren/lectern/internal/errors"
)

func TestEConstructor(t *testing.T) {
	got := lecerrs.E(
		"something went wrong",
		lecerrs.Detail{Field: "name", Error: "was bad"},
		http.StatusBadRequest,
		lecerrs.Fingerprint("SOMETHING_WRONG"),
	)
	want := &lecerrs.Error{
		Err: errors.New("something went wrong"),
		Details: []lecerrs.Detail{
			{Field: "name", Error: "was bad"},
		},
		Status:      http.StatusBadRequest,
		Fingerprint: "SOMETHING_WRONG",
	}

	assert.Equal(t, want, got)
}

func TestFingerprintOf(t *testing.T) {
	inner := lecerrs.E(lecerrs.Fingerprint("FEED_HTTP_REQUEST_FAILED"), "boom")
	wrapped := fmt.Errorf("error fetching: %w", lecerrs.E(inner))

	assert.Equal(t, lecerrs.Fingerprint("FEED_HTTP_REQUEST_FAILED"), lecerrs.FingerprintOf(wrapped))
	assert.Equal(t, lecerrs.Fingerprint(""), lecerrs.FingerprintOf(errors.New("plain")))
	assert.Equal(t, lecerrs.Fingerprint(""), lecerrs.FingerprintOf(nil))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, []string{"nope"}, lecerrs.E("nope", http.StatusBadRequest).Messages())
	assert.Equal(t,
		[]string{"a is required", "b is too long"},
		lecerrs.E(http.StatusBadRequest, []lecerrs.Detail{
			{Field: "a", Error: "a is required"},
			{Field: "b", Error: "b is too long"},
		}).Messages(),
	)
	assert.True(t, lecerrs.E(http.StatusUnauthorized).UserFacing())
	assert.False(t, lecerrs.E("internal").UserFacing())
}
