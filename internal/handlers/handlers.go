// Package handlers implements the RPC surface of lectern: accounts, profiles, subscriptions and
// the items of subscribed feeds.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/lectern/internal/auth"
	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/rpc"
)

// Keys the handlers are resolved by.
const (
	keyPing          = "ping"
	keyRegister      = "register"
	keyLogin         = "login"
	keyLogout        = "logout"
	keyProfile       = "profile"
	keyUpdateProfile = "updateProfile"
	keySubscribe     = "subscribe"
	keySubscriptions = "subscriptions"
	keyFeedItems     = "feedItems"
)

// Deps are the collaborators handlers are built from.
type Deps struct {
	Users         lectern.UserRepo
	Subscriptions lectern.SubscriptionRepo
	Sessions      *auth.Sessions
	// Profiles caches profile responses by user id.
	Profiles *lru.Cache[int64, ProfileResponse]
	Now      func() time.Time
}

// NewProfileCache creates the cache for [Deps.Profiles].
func NewProfileCache(size int) (*lru.Cache[int64, ProfileResponse], error) {
	return lru.New[int64, ProfileResponse](size)
}

// Register binds every request type to its handler.
func Register(reg *rpc.Registry) error {
	return errors.Join(
		rpc.Register[PingRequest, PingResponse](reg, rpc.Binding{RequestType: "PingRequest", HandlerKey: keyPing}),
		rpc.Register[RegisterRequest, AuthResponse](reg, rpc.Binding{RequestType: "RegisterRequest", HandlerKey: keyRegister, RequiresTransaction: true}),
		rpc.Register[LoginRequest, AuthResponse](reg, rpc.Binding{RequestType: "LoginRequest", HandlerKey: keyLogin}),
		rpc.Register[LogoutRequest, rpc.Void](reg, rpc.Binding{RequestType: "LogoutRequest", HandlerKey: keyLogout, RequiresAuth: true}),
		rpc.Register[ProfileRequest, ProfileResponse](reg, rpc.Binding{RequestType: "ProfileRequest", HandlerKey: keyProfile, RequiresAuth: true}),
		rpc.Register[UpdateProfileRequest, ProfileResponse](reg, rpc.Binding{RequestType: "UpdateProfileRequest", HandlerKey: keyUpdateProfile, RequiresAuth: true, RequiresTransaction: true}),
		rpc.Register[SubscribeRequest, SubscriptionResponse](reg, rpc.Binding{RequestType: "SubscribeRequest", HandlerKey: keySubscribe, RequiresAuth: true, RequiresTransaction: true}),
		rpc.Register[SubscriptionsRequest, SubscriptionsResponse](reg, rpc.Binding{RequestType: "SubscriptionsRequest", HandlerKey: keySubscriptions, RequiresAuth: true}),
		rpc.Register[FeedItemsRequest, FeedItemsResponse](reg, rpc.Binding{RequestType: "FeedItemsRequest", HandlerKey: keyFeedItems, RequiresAuth: true}),
	)
}

// Factories builds a fresh handler per request out of the deps.
func Factories(d Deps) rpc.Factories {
	if d.Now == nil {
		d.Now = time.Now
	}

	return rpc.Factories{
		keyPing: func(context.Context) (any, error) {
			return pingHandler{now: d.Now}, nil
		},
		keyRegister: func(context.Context) (any, error) {
			return registerHandler{users: d.Users, sessions: d.Sessions}, nil
		},
		keyLogin: func(context.Context) (any, error) {
			return loginHandler{users: d.Users, sessions: d.Sessions}, nil
		},
		keyLogout: func(context.Context) (any, error) {
			return logoutHandler{sessions: d.Sessions}, nil
		},
		keyProfile: func(context.Context) (any, error) {
			return profileHandler{users: d.Users, cache: d.Profiles}, nil
		},
		keyUpdateProfile: func(context.Context) (any, error) {
			return updateProfileHandler{users: d.Users, cache: d.Profiles}, nil
		},
		keySubscribe: func(context.Context) (any, error) {
			return subscribeHandler{subs: d.Subscriptions}, nil
		},
		keySubscriptions: func(context.Context) (any, error) {
			return subscriptionsHandler{subs: d.Subscriptions}, nil
		},
		keyFeedItems: func(context.Context) (any, error) {
			return feedItemsHandler{subs: d.Subscriptions}, nil
		},
	}
}

// NewEngine wires the handlers into an engine running authorization, validation and transactions,
// in that order, around every call.
func NewEngine(ctx context.Context, d Deps, tx rpc.Transactor, debug bool) (*rpc.Engine, error) {
	reg := rpc.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, fmt.Errorf("error registering handlers: %w", err)
	}

	factories := Factories(d)
	if err := reg.Verify(ctx, factories); err != nil {
		return nil, fmt.Errorf("error verifying handlers: %w", err)
	}

	return rpc.NewEngine(rpc.EngineConfig{
		Registry: reg,
		Resolver: factories,
		Middleware: []rpc.Middleware{
			rpc.Authorization(d.Sessions),
			rpc.Validation(),
			rpc.Transaction(tx),
		},
		Debug: debug,
	}), nil
}
