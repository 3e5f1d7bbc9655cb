package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/lectern/internal/logger"
	"github.com/jdholdren/lectern/internal/rpc"
)

type (
	echoRequest struct {
		Name string `json:"name"`
	}
	echoResponse struct {
		Name   string `json:"name"`
		Cookie string `json:"cookie"`
		CSRF   string `json:"csrf"`
	}
	echoHandler struct{}
)

func (echoHandler) Handle(_ context.Context, call *rpc.Call, req *echoRequest) (echoResponse, error) {
	call.SetCookie(&http.Cookie{Name: "seen", Value: req.Name})
	return echoResponse{
		Name:   req.Name,
		Cookie: call.Header(rpc.HeaderCookie),
		CSRF:   call.Header(rpc.HeaderCSRF),
	}, nil
}

func newTestApiServer(t *testing.T) *Server {
	t.Helper()

	reg := rpc.NewRegistry()
	require.NoError(t, rpc.Register[echoRequest, echoResponse](reg, rpc.Binding{RequestType: "EchoRequest", HandlerKey: "echo"}))
	engine := rpc.NewEngine(rpc.EngineConfig{
		Registry: reg,
		Resolver: rpc.Factories{"echo": func(context.Context) (any, error) { return echoHandler{}, nil }},
	})

	return NewServer(ServerConfig{Port: 0, CorsOrigin: "http://localhost:3000", MaxBodyBytes: 1024}, engine)
}

// Result as it comes off the wire.
type wireResult struct {
	Success       bool            `json:"success"`
	Payload       json.RawMessage `json:"payload"`
	ErrorMessages []string        `json:"errorMessages"`
}

func post(t *testing.T, s *Server, path, body string, headers map[string]string) (*httptest.ResponseRecorder, wireResult) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	var res wireResult
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	}
	return rec, res
}

func TestPostRPC(t *testing.T) {
	s := newTestApiServer(t)

	rec, res := post(t, s, "/rpc/EchoRequest", `{"payload":{"name":"bob"}}`, map[string]string{
		"Cookie":       "lectern_session=abc",
		"X-CSRF-Token": "token",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, res.Success)
	assert.Empty(t, res.ErrorMessages)

	var payload echoResponse
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, echoResponse{Name: "bob", Cookie: "lectern_session=abc", CSRF: "token"}, payload)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "seen", cookies[0].Name)
	assert.Equal(t, "bob", cookies[0].Value)
}

func TestPostRPC_HeadersInBody(t *testing.T) {
	s := newTestApiServer(t)

	_, res := post(t, s, "/rpc", `{"type":"EchoRequest","payload":{"name":"bob"},"headers":{"Cookie":"a=b"}}`, nil)
	require.True(t, res.Success)

	var payload echoResponse
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, "a=b", payload.Cookie)
}

func TestPostRPC_PathTypeWins(t *testing.T) {
	s := newTestApiServer(t)

	_, res := post(t, s, "/rpc/EchoRequest", `{"type":"OtherRequest","payload":{"name":"bob"}}`, nil)
	assert.True(t, res.Success)
}

func TestPostRPC_Failures(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		msg  string
	}{
		{
			name: "unknown type",
			path: "/rpc/NopeRequest",
			body: `{"payload":{}}`,
			msg:  "No RPC handler for request `NopeRequest`.",
		},
		{
			name: "missing type",
			path: "/rpc",
			body: `{"payload":{}}`,
			msg:  rpc.MsgMissingType,
		},
		{
			name: "empty body",
			path: "/rpc/EchoRequest",
			body: "  ",
			msg:  "Request body is empty.",
		},
		{
			name: "invalid json",
			path: "/rpc/EchoRequest",
			body: `{"payload":`,
			msg:  "Invalid request body: unexpected end of JSON input",
		},
	}

	s := newTestApiServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, res := post(t, s, tt.path, tt.body, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.False(t, res.Success)
			assert.Nil(t, res.Payload)
			assert.Equal(t, []string{tt.msg}, res.ErrorMessages)
		})
	}
}

func TestPostRPC_TooLarge(t *testing.T) {
	s := newTestApiServer(t)

	rec, _ := post(t, s, "/rpc/EchoRequest", `{"payload":{"name":"`+strings.Repeat("a", 2048)+`"}}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestApiServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	s := newTestApiServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/rpc/EchoRequest", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(logger.NewContextHandler(slog.NewTextHandler(&buf, nil))))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s := newTestApiServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/rpc/EchoRequest", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	s.Handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "request completed")
	assert.Contains(t, buf.String(), "method=OPTIONS")
	assert.Contains(t, buf.String(), "path=/rpc/EchoRequest")
}
