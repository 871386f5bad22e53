package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/GetStream/stream-social-feed/metrics"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	maxMedia           = 4
	defaultMaxAttempts = 3
	retryBackoff       = 5 * time.Millisecond
)

// pageSize defines the default number of posts displayed on a single page.
var pageSize = 10

// Engine applies social actions to the store and fans notifications out to
// the users they are directed at.
type Engine struct {
	Logger *slog.Logger
	Store  Store
	// Cache is optional. Without it every read goes to the Store.
	Cache Cache
	// MaxAttempts bounds how often an operation runs when the Store reports
	// ErrConflict.
	MaxAttempts int
	// Now and NewID default to UTC wall clock and UUIDv7.
	Now   func() time.Time
	NewID func() string
}

func (e *Engine) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.Must(uuid.NewV7()).String()
}

// retry runs f until it returns something other than ErrConflict. Once the
// attempts are used up the conflict is reported as ErrStorageUnavailable.
func (e *Engine) retry(ctx context.Context, op string, f func() error) error {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = f()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		metrics.ConflictRetried(op)
		e.log().Warn("Conflicting write", "op", op, "attempt", attempt, "error", err.Error())
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return fmt.Errorf("%w: %s gave up after %d attempts: %w", ErrStorageUnavailable, op, attempts, err)
}

// Register records the identity of an authenticated caller so that other
// users can follow it.
func (e *Engine) Register(ctx context.Context, actor Actor) (User, error) {
	if actor.ID == "" || actor.Username == "" || actor.DisplayName == "" {
		return User{}, fmt.Errorf("%w: identity is missing id, username or display name", ErrValidation)
	}

	var u User
	err := e.retry(ctx, "register", func() error {
		var err error
		u, err = e.Store.UpsertUser(ctx, User{
			ID:          actor.ID,
			Username:    actor.Username,
			DisplayName: actor.DisplayName,
			Avatar:      actor.Avatar,
			CreatedAt:   e.now(),
		})
		return err
	})
	if errors.Is(err, ErrValidation) {
		return User{}, err
	}
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// CreatePost stores a new post authored by actor.
func (e *Engine) CreatePost(ctx context.Context, actor Actor, np NewPost) (Post, error) {
	if strings.TrimSpace(np.Content) == "" && len(np.Media) == 0 {
		return Post{}, fmt.Errorf("%w: a post needs content or media", ErrValidation)
	}
	if len(np.Media) > maxMedia {
		return Post{}, fmt.Errorf("%w: a post holds at most %d media", ErrValidation, maxMedia)
	}
	for i, m := range np.Media {
		if strings.TrimSpace(m.URL) == "" {
			return Post{}, fmt.Errorf("%w: media %d has no url", ErrValidation, i)
		}
		if m.Kind != MediaImage && m.Kind != MediaVideo {
			return Post{}, fmt.Errorf("%w: media %d has unknown type %q", ErrValidation, i, m.Kind)
		}
	}

	p, err := e.Store.InsertPost(ctx, Post{
		ID:       e.newID(),
		Content:  np.Content,
		Location: strings.TrimSpace(np.Location),
		Media:    np.Media,
		Hashtags: Hashtags(np.Content),
		Author: Author{
			ID:          actor.ID,
			Username:    actor.Username,
			DisplayName: actor.DisplayName,
		},
		CreatedAt: e.now(),
	})
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	metrics.InteractionApplied("post")

	if e.Cache != nil {
		if err := e.Cache.AddRecentPost(ctx, p.ID, p.CreatedAt); err != nil {
			e.log().Error("Could not cache post", "post_id", p.ID, "error", err.Error())
		}
	}
	return p, nil
}

// GetPost returns a single post.
func (e *Engine) GetPost(ctx context.Context, id string) (Post, error) {
	return e.Store.GetPost(ctx, id)
}

// ListPosts returns a page of posts, newest first. The first page is
// assembled from the recent post index when a Cache is configured.
func (e *Engine) ListPosts(ctx context.Context, page int) ([]Post, error) {
	if page < 1 {
		page = 1
	}
	if page > 1 || e.Cache == nil {
		posts, err := e.Store.ListPosts(ctx, pageSize, pageSize*(page-1))
		if err != nil {
			return nil, fmt.Errorf("list posts: %w", err)
		}
		return nonNil(posts), nil
	}

	ids, err := e.Cache.RecentPostIDs(ctx)
	if err != nil {
		e.log().Error("Could not read recent posts", "error", err.Error())
		ids = nil
	}

	var cached []Post
	if len(ids) > 0 {
		cached, err = e.Store.ListPostsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("list cached posts: %w", err)
		}
	}
	e.log().Debug("Got recent posts from cache", "count", len(cached))

	rest, err := e.Store.ListPosts(ctx, pageSize, 0, ids...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	e.log().Debug("Got remaining posts from store", "count", len(rest))

	posts := append(cached, rest...)
	sortPosts(posts)
	if len(posts) > pageSize {
		posts = posts[:pageSize]
	}
	return nonNil(posts), nil
}

// ListUserPosts returns every post whose author snapshot carries username,
// newest first.
func (e *Engine) ListUserPosts(ctx context.Context, username string) ([]Post, error) {
	posts, err := e.Store.ListPostsByAuthor(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list posts by author: %w", err)
	}
	sortPosts(posts)
	return nonNil(posts), nil
}

// AddComment appends a comment by actor to the post and notifies the post
// author unless actor is the author.
func (e *Engine) AddComment(ctx context.Context, actor Actor, postID, content string) (Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Post{}, fmt.Errorf("%w: comment content is required", ErrValidation)
	}

	c := Comment{
		ID:      e.newID(),
		Content: content,
		Author:  actor,
	}

	var p Post
	err := e.retry(ctx, "add_comment", func() error {
		var err error
		c.CreatedAt = e.now()
		p, err = e.Store.AppendComment(ctx, postID, c)
		return err
	})
	if err != nil {
		return Post{}, err
	}
	metrics.InteractionApplied("comment")

	if p.Author.ID == actor.ID {
		return p, nil
	}
	err = e.notify(ctx, Notification{
		Type:  NotificationComment,
		Actor: actor,
		Post:  snapshotPost(p),
		Comment: &CommentSnapshot{
			ID:      c.ID,
			Content: c.Content,
			Author:  c.Author,
		},
		Recipient: p.Author.ID,
	})
	return p, err
}

// ToggleLike flips the like of actor on the post. Only the transition to
// liked notifies the author.
func (e *Engine) ToggleLike(ctx context.Context, actor Actor, postID string) (Post, bool, error) {
	var (
		p     Post
		liked bool
	)
	err := e.retry(ctx, "toggle_like", func() error {
		var err error
		p, liked, err = e.Store.ToggleLike(ctx, postID, actor.ID, e.now())
		return err
	})
	if err != nil {
		return Post{}, false, err
	}

	if !liked {
		metrics.InteractionApplied("unlike")
		return p, false, nil
	}
	metrics.InteractionApplied("like")

	if p.Author.ID == actor.ID {
		return p, true, nil
	}
	err = e.notify(ctx, Notification{
		Type:      NotificationLike,
		Actor:     actor,
		Post:      snapshotPost(p),
		Recipient: p.Author.ID,
	})
	return p, true, err
}

// ToggleFollow flips actor following targetID. Only the transition to
// following notifies the target.
func (e *Engine) ToggleFollow(ctx context.Context, actor Actor, targetID string) (bool, error) {
	if targetID == actor.ID {
		return false, fmt.Errorf("%w: cannot follow yourself", ErrValidation)
	}

	var following bool
	err := e.retry(ctx, "toggle_follow", func() error {
		var err error
		following, err = e.Store.ToggleFollow(ctx, actor.ID, targetID, e.now())
		return err
	})
	if err != nil {
		return false, err
	}

	if !following {
		metrics.InteractionApplied("unfollow")
		return false, nil
	}
	metrics.InteractionApplied("follow")

	err = e.notify(ctx, Notification{
		Type:      NotificationFollow,
		Actor:     actor,
		Recipient: targetID,
	})
	return true, err
}

// Profile returns the user called username as seen by viewer.
func (e *Engine) Profile(ctx context.Context, viewer Actor, username string) (Profile, error) {
	u, err := e.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		User:           u,
		FollowerCount:  len(u.FollowerIDs),
		FollowingCount: len(u.FollowingIDs),
		IsCurrentUser:  u.ID == viewer.ID,
		IsFollowing:    lo.Contains(u.FollowerIDs, viewer.ID),
	}, nil
}

// UpdateProfile changes the live profile of actor. Snapshots taken earlier
// keep the old values.
func (e *Engine) UpdateProfile(ctx context.Context, actor Actor, upd ProfileUpdate) (User, error) {
	if upd.Bio == nil && upd.Avatar == nil {
		return User{}, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	u, err := e.Store.UpdateProfile(ctx, actor.ID, upd)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// notify stores n and bumps the cached unread count of its recipient.
func (e *Engine) notify(ctx context.Context, n Notification) error {
	n.ID = e.newID()
	n.Read = false
	n.CreatedAt = e.now()

	since := e.beginUnreadChange(ctx, n.Recipient)
	if _, err := e.Store.InsertNotification(ctx, n); err != nil {
		metrics.NotificationFailed(string(n.Type))
		e.log().Error("Could not create notification", "type", n.Type, "recipient", n.Recipient, "error", err.Error())
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	metrics.NotificationCreated(string(n.Type))
	e.log().Info("Notification created", "type", n.Type, "recipient", n.Recipient, "actor", n.Actor.ID)

	e.adjustUnreadCount(ctx, n.Recipient, since, 1)
	return nil
}

func snapshotPost(p Post) *PostSnapshot {
	return &PostSnapshot{
		ID:      p.ID,
		Content: p.Content,
		Media:   nonNil(slices.Clone(p.Media)),
	}
}

// sortPosts orders posts newest first. Posts created at the same instant keep
// the order of their time ordered ids.
func sortPosts(posts []Post) {
	slices.SortStableFunc(posts, func(a, b Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
