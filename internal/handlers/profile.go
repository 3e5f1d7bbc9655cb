package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	lecerrs "github.com/jdholdren/lectern/internal/errors"
	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/rpc"
)

type (
	ProfileRequest struct{}

	UpdateProfileRequest struct {
		DisplayName string `json:"displayName" validate:"omitempty,max=64,clean"`
		Email       string `json:"email" validate:"omitempty,email,max=254"`
	}

	ProfileResponse struct {
		UserID      int64     `json:"userID"`
		Username    string    `json:"username"`
		DisplayName string    `json:"displayName"`
		Email       string    `json:"email,omitempty"`
		CreatedAt   time.Time `json:"createdAt"`
	}
)

func (r UpdateProfileRequest) Validate() error {
	if r.DisplayName == "" && r.Email == "" {
		return errors.New("Nothing to update.")
	}
	return nil
}

func profileOf(usr lectern.User) ProfileResponse {
	return ProfileResponse{
		UserID:      usr.UserID,
		Username:    usr.Username,
		DisplayName: usr.DisplayName,
		Email:       usr.Email,
		CreatedAt:   usr.CreatedAt,
	}
}

type profileHandler struct {
	users lectern.UserRepo
	cache *lru.Cache[int64, ProfileResponse]
}

func (h profileHandler) Handle(ctx context.Context, call *rpc.Call, _ *ProfileRequest) (ProfileResponse, error) {
	userID := call.Auth.UserID
	if h.cache != nil {
		if profile, ok := h.cache.Get(userID); ok {
			return profile, nil
		}
	}

	usr, err := h.users.User(ctx, userID)
	if errors.Is(err, lectern.ErrNotFound) {
		return ProfileResponse{}, lecerrs.E(http.StatusNotFound, "User not found.")
	}
	if err != nil {
		return ProfileResponse{}, fmt.Errorf("error fetching user: %w", err)
	}

	profile := profileOf(usr)
	if h.cache != nil {
		h.cache.Add(userID, profile)
	}
	return profile, nil
}

type updateProfileHandler struct {
	users lectern.UserRepo
	cache *lru.Cache[int64, ProfileResponse]
}

func (h updateProfileHandler) Handle(ctx context.Context, call *rpc.Call, req *UpdateProfileRequest) (ProfileResponse, error) {
	userID := call.Auth.UserID
	usr, err := h.users.UpdateProfile(ctx, userID, lectern.UpdateProfileArgs{
		DisplayName: req.DisplayName,
		Email:       req.Email,
	})
	if errors.Is(err, lectern.ErrNotFound) {
		return ProfileResponse{}, lecerrs.E(http.StatusNotFound, "User not found.")
	}
	if err != nil {
		return ProfileResponse{}, fmt.Errorf("error updating profile: %w", err)
	}

	if h.cache != nil {
		// Readers can still cache the old row until the write commits.
		call.AfterCommit(func() { h.cache.Remove(userID) })
	}
	return profileOf(usr), nil
}
