package api

import (
	"context"

	"github.com/GetStream/stream-social-feed/feed"
)

// A Service applies the social actions of authenticated callers and reads
// their feeds. It is implemented by *feed.Engine.
type Service interface {
	Register(ctx context.Context, actor feed.Actor) (feed.User, error)

	CreatePost(ctx context.Context, actor feed.Actor, np feed.NewPost) (feed.Post, error)
	GetPost(ctx context.Context, id string) (feed.Post, error)
	ListPosts(ctx context.Context, page int) ([]feed.Post, error)
	ListUserPosts(ctx context.Context, username string) ([]feed.Post, error)
	AddComment(ctx context.Context, actor feed.Actor, postID, content string) (feed.Post, error)
	ToggleLike(ctx context.Context, actor feed.Actor, postID string) (feed.Post, bool, error)

	ToggleFollow(ctx context.Context, actor feed.Actor, targetID string) (bool, error)
	Profile(ctx context.Context, viewer feed.Actor, username string) (feed.Profile, error)
	UpdateProfile(ctx context.Context, actor feed.Actor, upd feed.ProfileUpdate) (feed.User, error)

	Notifications(ctx context.Context, recipient string) (feed.NotificationFeed, error)
	UnreadCount(ctx context.Context, recipient string) (int, error)
	MarkRead(ctx context.Context, recipient, id string) (feed.Notification, int, error)
	MarkAllRead(ctx context.Context, recipient string) (feed.NotificationFeed, error)
}

var _ Service = (*feed.Engine)(nil)

// A Media references an uploaded file in a request body.
type Media struct {
	URL  string `json:"url" validate:"required"`
	Type string `json:"type" validate:"oneof=image video"`
}
