package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jdholdren/lectern/internal/auth"
	lecerrs "github.com/jdholdren/lectern/internal/errors"
	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/rpc"
)

const msgInvalidCredentials = "Invalid username or password."

type (
	RegisterRequest struct {
		Username    string `json:"username" validate:"required,min=3,max=32,alphanum,clean"`
		Password    string `json:"password" validate:"required,min=8,max=72"`
		DisplayName string `json:"displayName" validate:"max=64,clean"`
		Email       string `json:"email" validate:"omitempty,email,max=254"`
	}

	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LogoutRequest struct{}

	// AuthResponse is returned when a session starts. The CSRF token must be sent back in the
	// X-CSRF-Token header of every authenticated request.
	AuthResponse struct {
		UserID    int64  `json:"userID"`
		CSRFToken string `json:"csrfToken"`
	}
)

type registerHandler struct {
	users    lectern.UserRepo
	sessions *auth.Sessions
}

// Creates the user and logs them in right away.
func (h registerHandler) Handle(ctx context.Context, call *rpc.Call, req *RegisterRequest) (AuthResponse, error) {
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return AuthResponse{}, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}
	usr, err := h.users.InsertUser(ctx, lectern.User{
		Username:     req.Username,
		PasswordHash: hashed,
		DisplayName:  displayName,
		Email:        req.Email,
	})
	if errors.Is(err, lectern.ErrConflict) {
		return AuthResponse{}, lecerrs.E(http.StatusConflict, "Username is already taken.")
	}
	if err != nil {
		return AuthResponse{}, fmt.Errorf("error creating user: %w", err)
	}

	return startSession(ctx, call, h.sessions, usr.UserID)
}

type loginHandler struct {
	users    lectern.UserRepo
	sessions *auth.Sessions
}

func (h loginHandler) Handle(ctx context.Context, call *rpc.Call, req *LoginRequest) (AuthResponse, error) {
	usr, err := h.users.UserByUsername(ctx, req.Username)
	if errors.Is(err, lectern.ErrNotFound) {
		return AuthResponse{}, lecerrs.E(http.StatusUnauthorized, msgInvalidCredentials)
	}
	if err != nil {
		return AuthResponse{}, fmt.Errorf("error fetching user: %w", err)
	}

	ok, err := auth.CheckPassword(usr.PasswordHash, req.Password)
	if err != nil {
		return AuthResponse{}, err
	}
	if !ok {
		return AuthResponse{}, lecerrs.E(http.StatusUnauthorized, msgInvalidCredentials)
	}

	return startSession(ctx, call, h.sessions, usr.UserID)
}

func startSession(ctx context.Context, call *rpc.Call, sessions *auth.Sessions, userID int64) (AuthResponse, error) {
	sess, cookie, err := sessions.Start(ctx, userID)
	if err != nil {
		return AuthResponse{}, err
	}
	call.SetCookie(cookie)

	return AuthResponse{UserID: userID, CSRFToken: sess.CSRFToken}, nil
}

type logoutHandler struct {
	sessions *auth.Sessions
}

func (h logoutHandler) Handle(ctx context.Context, call *rpc.Call, _ *LogoutRequest) (rpc.Void, error) {
	cookie, err := h.sessions.End(ctx, call.Auth.SessionID)
	if err != nil {
		return rpc.Void{}, err
	}
	call.SetCookie(cookie)

	return rpc.Void{}, nil
}
