package lectern

import (
	"context"
	"time"
)

type (
	User struct {
		UserID       int64     `db:"user_id"`
		Username     string    `db:"username"`
		PasswordHash string    `db:"password_hash"`
		DisplayName  string    `db:"display_name"`
		Email        string    `db:"email"`
		CreatedAt    time.Time `db:"created_at"`
		UpdatedAt    time.Time `db:"updated_at"`
	}

	// Session is a logged in browser. The id lives in a signed cookie, the CSRF token is handed to
	// the client on login and must accompany every authenticated call.
	Session struct {
		SessionID string    `db:"session_id"`
		UserID    int64     `db:"user_id"`
		CSRFToken string    `db:"csrf_token"`
		CreatedAt time.Time `db:"created_at"`
		ExpiresAt time.Time `db:"expires_at"`
	}

	Subscription struct {
		UserID    int64     `db:"user_id"`
		FeedID    int64     `db:"feed_id"`
		CreatedAt time.Time `db:"created_at"`
	}

	// SubscribedFeed is a feed joined with the time the user subscribed to it.
	SubscribedFeed struct {
		Feed

		SubscribedAt time.Time `db:"subscribed_at"`
	}

	// Holds the optional fields for updating a user's profile.
	UpdateProfileArgs struct {
		DisplayName string
		Email       string
	}

	UserRepo interface {
		InsertUser(ctx context.Context, usr User) (User, error)
		User(ctx context.Context, id int64) (User, error)
		UserByUsername(ctx context.Context, username string) (User, error)
		UpdateProfile(ctx context.Context, id int64, args UpdateProfileArgs) (User, error)
	}

	SessionRepo interface {
		InsertSession(ctx context.Context, sess Session) error
		Session(ctx context.Context, id string) (Session, error)
		DeleteSession(ctx context.Context, id string) error
	}

	SubscriptionRepo interface {
		// EnsureFeed returns the feed with the url, creating it when missing.
		EnsureFeed(ctx context.Context, url string) (Feed, error)
		CreateSubscription(ctx context.Context, userID, feedID int64) error
		UserSubscriptions(ctx context.Context, userID int64) ([]SubscribedFeed, error)
		// UserFeedItems pages through the items of the feeds the user is subscribed to, newest
		// first. A zero feedID means every subscribed feed.
		UserFeedItems(ctx context.Context, userID, feedID int64, limit, offset int) ([]FeedItem, int, error)
	}
)
