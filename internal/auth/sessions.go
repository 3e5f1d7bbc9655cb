// Package auth keeps track of who's logged in: passwords are hashed with bcrypt and sessions are
// referenced by a signed cookie holding nothing but the session id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/rpc"
)

const sessionCookieName = "lectern_session"

// Describes what's persisted in the user's cookie.
type sessionState struct {
	SessionID string
}

type (
	SessionsConfig struct {
		CookieHashKey  []byte
		CookieBlockKey []byte
		HttpsCookies   bool // Whether or not cookies are only sent over HTTPS
		TTL            time.Duration
		CacheSize      int
	}

	// Sessions starts, ends and looks up sessions.
	Sessions struct {
		repo         lectern.SessionRepo
		secureCookie *securecookie.SecureCookie
		httpsCookies bool
		ttl          time.Duration
		cache        *lru.Cache[string, lectern.Session]
		now          func() time.Time
	}
)

var _ rpc.Authenticator = (*Sessions)(nil)

func NewSessions(cfg SessionsConfig, repo lectern.SessionRepo) (*Sessions, error) {
	if len(cfg.CookieHashKey) == 0 {
		slog.Warn("no cookie hash key configured, sessions won't survive a restart")
		cfg.CookieHashKey = securecookie.GenerateRandomKey(64)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}

	cache, err := lru.New[string, lectern.Session](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating session cache: %w", err)
	}

	return &Sessions{
		repo:         repo,
		secureCookie: securecookie.New(cfg.CookieHashKey, cfg.CookieBlockKey),
		httpsCookies: cfg.HttpsCookies,
		ttl:          cfg.TTL,
		cache:        cache,
		now:          time.Now,
	}, nil
}

// Start creates a session for the user, returning it with the cookie referencing it.
func (s *Sessions) Start(ctx context.Context, userID int64) (lectern.Session, *http.Cookie, error) {
	now := s.now().UTC()
	sess := lectern.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		CSRFToken: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.InsertSession(ctx, sess); err != nil {
		return lectern.Session{}, nil, fmt.Errorf("error starting session: %w", err)
	}

	encoded, err := s.secureCookie.Encode(sessionCookieName, sessionState{SessionID: sess.SessionID})
	if err != nil {
		return lectern.Session{}, nil, fmt.Errorf("error encoding cookie: %w", err)
	}

	return sess, s.cookie(encoded, sess.ExpiresAt), nil
}

// End deletes the session, returning a cookie that clears it from the browser.
func (s *Sessions) End(ctx context.Context, sessionID string) (*http.Cookie, error) {
	// The row goes first, otherwise a concurrent lookup could re-cache it.
	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("error ending session: %w", err)
	}
	s.cache.Remove(sessionID)

	cookie := s.cookie("", time.Unix(0, 0))
	cookie.MaxAge = -1
	return cookie, nil
}

func (s *Sessions) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   s.httpsCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Authenticate finds the live session referenced by the call's cookie header.
//
// Missing, tampered or expired cookies make the call anonymous rather than failing it.
func (s *Sessions) Authenticate(ctx context.Context, call *rpc.Call) (*rpc.Auth, error) {
	sessionID := s.sessionID(ctx, call.Header(rpc.HeaderCookie))
	if sessionID == "" {
		return nil, nil
	}

	sess, ok := s.cache.Get(sessionID)
	if !ok {
		var err error
		sess, err = s.repo.Session(ctx, sessionID)
		if errors.Is(err, lectern.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error fetching session: %w", err)
		}
		s.cache.Add(sessionID, sess)
	}

	if !s.now().Before(sess.ExpiresAt) {
		slog.DebugContext(ctx, "session expired", "user_id", sess.UserID)
		s.cache.Remove(sessionID)
		return nil, nil
	}

	return &rpc.Auth{
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		CSRFToken: sess.CSRFToken,
	}, nil
}

// Pulls the session id out of a raw cookie header.
func (s *Sessions) sessionID(ctx context.Context, header string) string {
	if header == "" {
		return ""
	}

	cookies, err := http.ParseCookie(header)
	if err != nil {
		slog.DebugContext(ctx, "error parsing cookie header", "err", err)
		return ""
	}

	for _, c := range cookies {
		if c.Name != sessionCookieName {
			continue
		}

		var state sessionState
		if err := s.secureCookie.Decode(sessionCookieName, c.Value, &state); err != nil {
			slog.DebugContext(ctx, "error decoding cookie", "err", err)
			return ""
		}
		return state.SessionID
	}

	return ""
}
