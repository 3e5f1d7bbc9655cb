package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	lecerrs "github.com/jdholdren/lectern/internal/errors"
	"github.com/jdholdren/lectern/internal/rpc"
	"github.com/jdholdren/lectern/internal/serverutil"
)

// The HTTP headers forwarded into the message's headers.
var forwardedHeaders = []string{rpc.HeaderCookie, rpc.HeaderCSRF}

// Executes the message in the body.
//
// Every outcome of the engine, failures included, is a 200: only a body that can't even be read
// gets an HTTP error.
func (s Server) postRPC(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return lecerrs.E(http.StatusRequestEntityTooLarge, "Request body is too large.")
	}
	if err != nil {
		return lecerrs.E(http.StatusBadRequest, err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return serverutil.WriteJSON(w, http.StatusOK, rpc.Fail("Request body is empty."))
	}

	var msg rpc.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return serverutil.WriteJSON(w, http.StatusOK, rpc.Fail("Invalid request body: "+err.Error()))
	}

	// The path names the type when it's there.
	if typ := mux.Vars(r)["type"]; typ != "" {
		msg.Type = typ
	}

	call := rpc.NewCall(msg)
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			call.Message.Headers[name] = v
		}
	}

	res := s.engine.Execute(r.Context(), call)
	for _, cookie := range call.Cookies() {
		http.SetCookie(w, cookie)
	}

	return serverutil.WriteJSON(w, http.StatusOK, res)
}
