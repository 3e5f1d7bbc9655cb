// Package api serves the RPC engine over HTTP.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jdholdren/lectern/internal/rpc"
	"github.com/jdholdren/lectern/internal/serverutil"
)

const defaultMaxBodyBytes = 1 << 20

type (
	// Server hosts the RPC engine at POST /rpc/{type}.
	Server struct {
		*http.Server

		engine       *rpc.Engine
		maxBodyBytes int64
	}

	ServerConfig struct {
		Port         int
		CorsOrigin   string
		MaxBodyBytes int64
	}
)

func NewServer(config ServerConfig, engine *rpc.Engine) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	srvr := Server{
		engine:       engine,
		maxBodyBytes: config.MaxBodyBytes,
	}

	var handler http.Handler = r
	if config.CorsOrigin != "" {
		handler = handlers.CORS(
			handlers.AllowedOrigins([]string{config.CorsOrigin}),
			handlers.AllowCredentials(),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"content-type", "x-csrf-token"}),
		)(r)
	}
	// Outermost, so preflights answered by CORS are logged too.
	handler = serverutil.AccessLogMiddleware(handler)
	srvr.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      handler,
	}

	r.HandleFuncE("/healthz", srvr.getHealthz).Methods(http.MethodGet)
	r.HandleFuncE("/rpc", srvr.postRPC).Methods(http.MethodPost)
	r.HandleFuncE("/rpc/{type}", srvr.postRPC).Methods(http.MethodPost)

	slog.Debug("configured rpc server", "port", config.Port)

	return &srvr
}

func (s Server) getHealthz(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}
