package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/lectern/internal/auth"
	"github.com/jdholdren/lectern/internal/handlers"
	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/migrations"
	"github.com/jdholdren/lectern/internal/rpc"
	"github.com/jdholdren/lectern/internal/sqlite"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	engine   *rpc.Engine
	repo     sqlite.Repo
	profiles *lru.Cache[int64, handlers.ProfileResponse]
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvTx(t, nil)
}

// Builds the env with the repo's transactions optionally wrapped.
func newTestEnvTx(t *testing.T, wrap func(rpc.Transactor) rpc.Transactor) testEnv {
	t.Helper()

	dbx, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	dbx.SetMaxOpenConns(1)
	t.Cleanup(func() { dbx.Close() })
	require.NoError(t, migrations.Run(dbx))

	repo := sqlite.New(dbx)
	sessions, err := auth.NewSessions(auth.SessionsConfig{
		CookieHashKey: []byte("0123456789abcdef0123456789abcdef"),
		TTL:           time.Hour,
	}, repo)
	require.NoError(t, err)
	profiles, err := handlers.NewProfileCache(16)
	require.NoError(t, err)

	var tx rpc.Transactor = repo
	if wrap != nil {
		tx = wrap(repo)
	}
	engine, err := handlers.NewEngine(context.Background(), handlers.Deps{
		Users:         repo,
		Subscriptions: repo,
		Sessions:      sessions,
		Profiles:      profiles,
		Now:           func() time.Time { return fixedNow },
	}, tx, false)
	require.NoError(t, err)

	return testEnv{engine: engine, repo: repo, profiles: profiles}
}

// A logged in client, echoing back the session cookie and csrf token.
type client struct {
	userID int64
	cookie string
	csrf   string
}

func (c client) headers() map[string]string {
	if c.cookie == "" {
		return nil
	}
	return map[string]string{"Cookie": c.cookie, "X-CSRF-Token": c.csrf}
}

func (e testEnv) exec(t *testing.T, c client, typ string, payload any) (rpc.Result, *rpc.Call) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	call := rpc.NewCall(rpc.Message{Type: typ, Payload: raw, Headers: c.headers()})
	return e.engine.Execute(context.Background(), call), call
}

func (e testEnv) login(t *testing.T, typ string, payload any) client {
	t.Helper()

	res, call := e.exec(t, client{}, typ, payload)
	require.True(t, res.Success, res.ErrorMessages)
	authResp, ok := res.Payload.(handlers.AuthResponse)
	require.True(t, ok)
	require.Len(t, call.Cookies(), 1)

	cookie := call.Cookies()[0]
	return client{
		userID: authResp.UserID,
		cookie: fmt.Sprintf("%s=%s", cookie.Name, cookie.Value),
		csrf:   authResp.CSRFToken,
	}
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)

	res, _ := env.exec(t, client{}, "PingRequest", nil)
	assert.Equal(t, rpc.OK(handlers.PingResponse{Pong: true, Time: fixedNow}), res)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	alice := env.login(t, "RegisterRequest", map[string]string{
		"username": "alice",
		"password": "correct horse",
		"email":    "alice@example.com",
	})

	res, _ := env.exec(t, alice, "ProfileRequest", nil)
	require.True(t, res.Success, res.ErrorMessages)
	profile := res.Payload.(handlers.ProfileResponse)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "alice", profile.DisplayName)
	assert.Equal(t, "alice@example.com", profile.Email)

	t.Run("taken username", func(t *testing.T) {
		res, call := env.exec(t, client{}, "RegisterRequest", map[string]string{"username": "alice", "password": "12345678"})
		assert.Equal(t, rpc.Fail("Username is already taken."), res)
		assert.Empty(t, call.Cookies())
	})

	t.Run("invalid registration", func(t *testing.T) {
		res, _ := env.exec(t, client{}, "RegisterRequest", map[string]string{"username": "al"})
		assert.Equal(t, rpc.Fail("username must be at least 3 characters.", "password is required."), res)
	})

	t.Run("wrong password", func(t *testing.T) {
		res, call := env.exec(t, client{}, "LoginRequest", map[string]string{"username": "alice", "password": "nope nope"})
		assert.Equal(t, rpc.Fail("Invalid username or password."), res)
		assert.Empty(t, call.Cookies())
	})

	t.Run("unknown user", func(t *testing.T) {
		res, _ := env.exec(t, client{}, "LoginRequest", map[string]string{"username": "bob", "password": "correct horse"})
		assert.Equal(t, rpc.Fail("Invalid username or password."), res)
	})

	t.Run("login", func(t *testing.T) {
		again := env.login(t, "LoginRequest", map[string]string{"username": "alice", "password": "correct horse"})
		assert.NotEqual(t, alice.csrf, again.csrf)

		res, _ := env.exec(t, again, "ProfileRequest", nil)
		assert.True(t, res.Success)
	})
}

func TestAuthGate(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "RegisterRequest", map[string]string{"username": "alice", "password": "correct horse"})

	res, _ := env.exec(t, client{}, "ProfileRequest", nil)
	assert.Equal(t, rpc.Fail(rpc.MsgUnauthorized), res)

	forged := alice
	forged.csrf = "forged"
	res, _ = env.exec(t, forged, "ProfileRequest", nil)
	assert.Equal(t, rpc.Fail(rpc.MsgUnauthorized), res)

	res, _ = env.exec(t, alice, "ProfileRequest", nil)
	assert.True(t, res.Success)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "RegisterRequest", map[string]string{"username": "alice", "password": "correct horse"})

	// Warm the cache.
	res, _ := env.exec(t, alice, "ProfileRequest", nil)
	require.True(t, res.Success)

	res, _ = env.exec(t, alice, "UpdateProfileRequest", map[string]string{})
	assert.Equal(t, rpc.Fail("Nothing to update."), res)

	res, _ = env.exec(t, alice, "UpdateProfileRequest", map[string]string{"email": "nope"})
	assert.Equal(t, rpc.Fail("email must be a valid email address."), res)

	res, _ = env.exec(t, alice, "UpdateProfileRequest", map[string]string{"displayName": "Alice A."})
	require.True(t, res.Success, res.ErrorMessages)
	assert.Equal(t, "Alice A.", res.Payload.(handlers.ProfileResponse).DisplayName)

	res, _ = env.exec(t, alice, "ProfileRequest", nil)
	require.True(t, res.Success)
	assert.Equal(t, "Alice A.", res.Payload.(handlers.ProfileResponse).DisplayName)
}

// Runs a hook after the transaction's work but before it commits.
type beforeCommitTx struct {
	rpc.Transactor
	hook func()
}

func (b beforeCommitTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.Transactor.InTx(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		if b.hook != nil {
			b.hook()
		}
		return nil
	})
}

func TestUpdateProfile_ReaderCachesBeforeCommit(t *testing.T) {
	var beforeCommit func()
	env := newTestEnvTx(t, func(tx rpc.Transactor) rpc.Transactor {
		return beforeCommitTx{Transactor: tx, hook: func() {
			if beforeCommit != nil {
				beforeCommit()
			}
		}}
	})
	alice := env.login(t, "RegisterRequest", map[string]string{"username": "alice", "password": "correct horse"})

	res, _ := env.exec(t, alice, "ProfileRequest", nil)
	require.True(t, res.Success)
	old := res.Payload.(handlers.ProfileResponse)

	// Another request reads the pre-update row and caches it while the write is in flight.
	beforeCommit = func() { env.profiles.Add(alice.userID, old) }
	res, _ = env.exec(t, alice, "UpdateProfileRequest", map[string]string{"displayName": "Alice A."})
	require.True(t, res.Success, res.ErrorMessages)
	beforeCommit = nil

	res, _ = env.exec(t, alice, "ProfileRequest", nil)
	require.True(t, res.Success)
	assert.Equal(t, "Alice A.", res.Payload.(handlers.ProfileResponse).DisplayName)
}

func TestSubscriptionsAndItems(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.login(t, "RegisterRequest", map[string]string{"username": "alice", "password": "correct horse"})

	res, _ := env.exec(t, alice, "SubscribeRequest", map[string]string{"url": "not a url"})
	assert.Equal(t, rpc.Fail("url must be a valid URL."), res)

	res, _ = env.exec(t, alice, "SubscribeRequest", map[string]string{"url": "https://example.com/feed.xml"})
	require.True(t, res.Success, res.ErrorMessages)
	sub := res.Payload.(handlers.SubscriptionResponse)
	assert.Equal(t, "https://example.com/feed.xml", sub.FeedURL)

	// Subscribing twice is harmless.
	res, _ = env.exec(t, alice, "SubscribeRequest", map[string]string{"url": "https://example.com/feed.xml"})
	require.True(t, res.Success, res.ErrorMessages)

	res, _ = env.exec(t, alice, "SubscriptionsRequest", nil)
	require.True(t, res.Success, res.ErrorMessages)
	subs := res.Payload.(handlers.SubscriptionsResponse).Subscriptions
	require.Len(t, subs, 1)
	assert.Equal(t, sub.FeedID, subs[0].FeedID)

	// What a fetch cycle would have stored.
	err := env.repo.ApplyUpdate(ctx, lectern.FeedUpdate{
		Feed: lectern.Feed{FeedID: sub.FeedID},
		NewItems: []lectern.FeedItem{
			{FeedItemHash: 1, FeedItemTitle: "Older", FeedItemAddedTime: fixedNow},
			{FeedItemHash: 2, FeedItemTitle: "Newer", FeedItemAddedTime: fixedNow.Add(time.Minute)},
		},
		FeedContentHash: 10,
		FeedItemsHash:   20,
		FeedTitle:       "Example",
	})
	require.NoError(t, err)

	res, _ = env.exec(t, alice, "FeedItemsRequest", map[string]any{"feedID": sub.FeedID})
	require.True(t, res.Success, res.ErrorMessages)
	items := res.Payload.(handlers.FeedItemsResponse)
	require.Len(t, items.Items, 2)
	assert.Equal(t, "Newer", items.Items[0].Title)
	assert.Equal(t, "Older", items.Items[1].Title)
	assert.Equal(t, 2, items.Pagination.Total)
	assert.Equal(t, 50, items.Pagination.Limit)

	res, _ = env.exec(t, alice, "FeedItemsRequest", map[string]any{"limit": 1, "offset": 1})
	require.True(t, res.Success, res.ErrorMessages)
	items = res.Payload.(handlers.FeedItemsResponse)
	require.Len(t, items.Items, 1)
	assert.Equal(t, "Older", items.Items[0].Title)

	res, _ = env.exec(t, alice, "FeedItemsRequest", map[string]any{"offset": -1})
	assert.Equal(t, rpc.Fail("offset must be at least 0."), res)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "RegisterRequest", map[string]string{"username": "alice", "password": "correct horse"})

	res, call := env.exec(t, alice, "LogoutRequest", nil)
	require.True(t, res.Success, res.ErrorMessages)
	require.Len(t, call.Cookies(), 1)
	assert.Equal(t, -1, call.Cookies()[0].MaxAge)

	res, _ = env.exec(t, alice, "ProfileRequest", nil)
	assert.Equal(t, rpc.Fail(rpc.MsgUnauthorized), res)
}
