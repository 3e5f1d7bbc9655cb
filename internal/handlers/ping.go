package handlers

import (
	"context"
	"time"

	"github.com/jdholdren/lectern/internal/rpc"
)

type (
	PingRequest struct{}

	PingResponse struct {
		Pong bool      `json:"pong"`
		Time time.Time `json:"time"`
	}
)

type pingHandler struct {
	now func() time.Time
}

func (h pingHandler) Handle(context.Context, *rpc.Call, *PingRequest) (PingResponse, error) {
	return PingResponse{Pong: true, Time: h.now().UTC()}, nil
}
