// Package feed implements the social interactions of the application: posts,
// comments, likes and follows, and the notification feed they fan out to.
package feed

import (
	"context"
	"time"

	"github.com/samber/lo"
)

// An Actor is the already-verified identity of the caller. Comments and
// notifications embed a copy of it taken at write time.
type Actor struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

// An Author is the snapshot of a post's author.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// MediaKind is the type of a media attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media references an already uploaded file.
type Media struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"type"`
}

// A Post represents a persisted post with its comments and likes.
type Post struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Location  string    `json:"location,omitempty"`
	Media     []Media   `json:"media"`
	Hashtags  []string  `json:"hashtags"`
	Author    Author    `json:"author"`
	Comments  []Comment `json:"comments"`
	Likes     []string  `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

// LikedBy reports whether userID is in the like set of the post.
func (p Post) LikedBy(userID string) bool {
	return lo.Contains(p.Likes, userID)
}

// A Comment is appended to a post and never changed afterwards.
type Comment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Author    Actor     `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// A User is a member of the social graph.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Avatar       string    `json:"avatar,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	FollowerIDs  []string  `json:"follower_ids"`
	FollowingIDs []string  `json:"following_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// A Profile is a user as seen by another user.
type Profile struct {
	User
	FollowerCount  int  `json:"follower_count"`
	FollowingCount int  `json:"following_count"`
	IsCurrentUser  bool `json:"is_current_user"`
	IsFollowing    bool `json:"is_following"`
}

// NotificationType tells what the actor did.
type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
)

// PostSnapshot is the part of a post copied into a notification.
type PostSnapshot struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Media   []Media `json:"media"`
}

// CommentSnapshot is the part of a comment copied into a notification.
type CommentSnapshot struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  Actor  `json:"author"`
}

// A Notification records that Actor did Type to Recipient. Only Read changes
// after creation.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Actor     Actor            `json:"actor"`
	Post      *PostSnapshot    `json:"post,omitempty"`
	Comment   *CommentSnapshot `json:"comment,omitempty"`
	Recipient string           `json:"recipient"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// A NotificationFeed is the ordered list of a recipient's notifications.
type NotificationFeed struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

// NewPost holds the caller supplied fields of a post.
type NewPost struct {
	Content  string
	Location string
	Media    []Media
}

// ProfileUpdate holds the profile fields to change. Nil fields are left as is.
type ProfileUpdate struct {
	Bio    *string
	Avatar *string
}

// A Store persists users, posts and notifications. Every method is atomic
// with respect to the aggregate it touches.
type Store interface {
	UpsertUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error)

	InsertPost(ctx context.Context, p Post) (Post, error)
	GetPost(ctx context.Context, id string) (Post, error)
	ListPosts(ctx context.Context, limit, offset int, excludeIDs ...string) ([]Post, error)
	ListPostsByIDs(ctx context.Context, ids []string) ([]Post, error)
	ListPostsByAuthor(ctx context.Context, username string) ([]Post, error)
	// AppendComment appends c to the post and returns the post after the
	// append. The stored CreatedAt may be moved forward so that comments
	// sort in the order they were appended.
	AppendComment(ctx context.Context, postID string, c Comment) (Post, error)
	// ToggleLike flips the membership of userID in the like set of the post
	// and reports the resulting membership.
	ToggleLike(ctx context.Context, postID, userID string, at time.Time) (Post, bool, error)

	// ToggleFollow flips the follower -> followee edge and reports whether it
	// exists afterwards.
	ToggleFollow(ctx context.Context, followerID, followeeID string, at time.Time) (bool, error)

	InsertNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, recipient string) ([]Notification, error)
	CountUnread(ctx context.Context, recipient string) (int, error)
	// MarkRead sets the read flag and reports whether it changed.
	MarkRead(ctx context.Context, id, recipient string) (Notification, bool, error)
	// MarkAllRead marks every unread notification of recipient created at or
	// before the cutoff and returns how many changed.
	MarkAllRead(ctx context.Context, recipient string, cutoff time.Time) (int, error)
}

// A CachedCount is an unread counter as read from a Cache. Version changes on
// every write to the counter.
type CachedCount struct {
	N       int
	OK      bool
	Version int64
}

// A Cache keeps derived state that is cheap to rebuild from the Store.
//
// Writers that change the number of unread notifications call
// BeginUnreadChange before the store write and AdjustUnreadCount after it.
// Readers that recompute the count from the store only store it with
// ReplaceUnreadCount if nothing was written to the counter meanwhile.
type Cache interface {
	AddRecentPost(ctx context.Context, id string, createdAt time.Time) error
	RecentPostIDs(ctx context.Context) ([]string, error)

	UnreadCount(ctx context.Context, recipient string) (CachedCount, error)
	ReplaceUnreadCount(ctx context.Context, recipient string, seen CachedCount, n int) (bool, error)
	BeginUnreadChange(ctx context.Context, recipient string) (int64, error)
	AdjustUnreadCount(ctx context.Context, recipient string, since int64, delta int) error
}
