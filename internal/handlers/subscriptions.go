package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/jdholdren/lectern/internal/lectern"
	"github.com/jdholdren/lectern/internal/rpc"
)

type (
	SubscribeRequest struct {
		URL string `json:"url" validate:"required,http_url,max=2048"`
	}

	SubscriptionsRequest struct{}

	SubscriptionResponse struct {
		FeedID       int64     `json:"feedID"`
		FeedURL      string    `json:"feedURL"`
		FeedTitle    *string   `json:"feedTitle"`
		SubscribedAt time.Time `json:"subscribedAt,omitzero"`
	}

	SubscriptionsResponse struct {
		Subscriptions []SubscriptionResponse `json:"subscriptions"`
	}

	FeedItemsRequest struct {
		// Restricts the items to one subscribed feed when set.
		FeedID int64 `json:"feedID" validate:"gte=0"`
		Limit  int   `json:"limit" validate:"gte=0"`
		Offset int   `json:"offset" validate:"gte=0"`
	}

	FeedItemResponse struct {
		FeedItemID  int64     `json:"feedItemID"`
		FeedID      int64     `json:"feedID"`
		URL         *string   `json:"url"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		AddedTime   time.Time `json:"addedTime"`
	}

	FeedItemsResponse struct {
		Items      []FeedItemResponse `json:"items"`
		Pagination paginationMeta     `json:"pagination"`
	}
)

type subscribeHandler struct {
	subs lectern.SubscriptionRepo
}

// Subscribes the user to the feed at the url. The feed itself is fetched by the next fetch cycle.
func (h subscribeHandler) Handle(ctx context.Context, call *rpc.Call, req *SubscribeRequest) (SubscriptionResponse, error) {
	feed, err := h.subs.EnsureFeed(ctx, req.URL)
	if err != nil {
		return SubscriptionResponse{}, fmt.Errorf("error ensuring feed: %w", err)
	}
	if err := h.subs.CreateSubscription(ctx, call.Auth.UserID, feed.FeedID); err != nil {
		return SubscriptionResponse{}, err
	}

	return SubscriptionResponse{
		FeedID:    feed.FeedID,
		FeedURL:   feed.FeedURL,
		FeedTitle: feed.FeedTitle,
	}, nil
}

type subscriptionsHandler struct {
	subs lectern.SubscriptionRepo
}

func (h subscriptionsHandler) Handle(ctx context.Context, call *rpc.Call, _ *SubscriptionsRequest) (SubscriptionsResponse, error) {
	subs, err := h.subs.UserSubscriptions(ctx, call.Auth.UserID)
	if err != nil {
		return SubscriptionsResponse{}, err
	}

	resp := SubscriptionsResponse{Subscriptions: make([]SubscriptionResponse, 0, len(subs))}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, SubscriptionResponse{
			FeedID:       sub.FeedID,
			FeedURL:      sub.FeedURL,
			FeedTitle:    sub.FeedTitle,
			SubscribedAt: sub.SubscribedAt,
		})
	}

	return resp, nil
}

type feedItemsHandler struct {
	subs lectern.SubscriptionRepo
}

func (h feedItemsHandler) Handle(ctx context.Context, call *rpc.Call, req *FeedItemsRequest) (FeedItemsResponse, error) {
	limit, offset := pageParams(req.Limit, req.Offset)

	items, total, err := h.subs.UserFeedItems(ctx, call.Auth.UserID, req.FeedID, limit, offset)
	if err != nil {
		return FeedItemsResponse{}, err
	}

	resp := FeedItemsResponse{
		Items: make([]FeedItemResponse, 0, len(items)),
		Pagination: paginationMeta{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	}
	for _, item := range items {
		resp.Items = append(resp.Items, FeedItemResponse{
			FeedItemID:  item.FeedItemID,
			FeedID:      item.FeedID,
			URL:         item.FeedItemURL,
			Title:       item.FeedItemTitle,
			Description: item.FeedItemDescription,
			AddedTime:   item.FeedItemAddedTime,
		})
	}

	return resp, nil
}
