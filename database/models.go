package database

import (
	"time"

	"github.com/GetStream/stream-social-feed/feed"
	"github.com/samber/lo"
	"github.com/uptrace/bun"
)

// A user represents a member of the social graph in the database.
type user struct {
	bun.BaseModel `bun:"table:users"`

	ID          string    `bun:"id,pk"`
	Username    string    `bun:"username,notnull,unique"`
	DisplayName string    `bun:"display_name,notnull"`
	Avatar      string    `bun:"avatar,notnull"`
	Bio         string    `bun:"bio,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

// A follow is the edge follower -> followee. The same row answers both
// "whom does A follow" and "who follows B".
type follow struct {
	bun.BaseModel `bun:"table:follows"`

	FollowerID string    `bun:"follower_id,pk"`
	FolloweeID string    `bun:"followee_id,pk"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type media struct {
	URL  string `json:"url"`
	Kind string `json:"type"`
}

// A post represents a post in the database. Media and hashtags are stored as
// JSON documents.
type post struct {
	bun.BaseModel `bun:"table:posts"`

	ID                string    `bun:"id,pk"`
	Content           string    `bun:"content,notnull"`
	Location          string    `bun:"location,notnull"`
	Media             []media   `bun:"media"`
	Hashtags          []string  `bun:"hashtags"`
	AuthorID          string    `bun:"author_id,notnull"`
	AuthorUsername    string    `bun:"author_username,notnull"`
	AuthorDisplayName string    `bun:"author_display_name,notnull"`
	CreatedAt         time.Time `bun:"created_at,notnull"`
	Comments          []comment `bun:"rel:has-many,join:id=post_id"`
	Likes             []like    `bun:"rel:has-many,join:id=post_id"`
}

type comment struct {
	bun.BaseModel `bun:"table:comments"`

	ID                string    `bun:"id,pk"`
	PostID            string    `bun:"post_id,notnull"`
	Content           string    `bun:"content,notnull"`
	AuthorID          string    `bun:"author_id,notnull"`
	AuthorUsername    string    `bun:"author_username,notnull"`
	AuthorDisplayName string    `bun:"author_display_name,notnull"`
	AuthorAvatar      string    `bun:"author_avatar,notnull"`
	CreatedAt         time.Time `bun:"created_at,notnull"`
}

type like struct {
	bun.BaseModel `bun:"table:likes"`

	PostID    string    `bun:"post_id,pk"`
	UserID    string    `bun:"user_id,pk"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type actor struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

type postSnapshot struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Media   []media `json:"media"`
}

type commentSnapshot struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  actor  `json:"author"`
}

// A notification keeps its actor, post and comment snapshots as JSON
// documents so that they never follow later changes of the originals.
type notification struct {
	bun.BaseModel `bun:"table:notifications"`

	ID          string           `bun:"id,pk"`
	Type        string           `bun:"type,notnull"`
	RecipientID string           `bun:"recipient_id,notnull"`
	Actor       actor            `bun:"actor,notnull"`
	Post        *postSnapshot    `bun:"post"`
	Comment     *commentSnapshot `bun:"comment"`
	IsRead      bool             `bun:"is_read,notnull"`
	CreatedAt   time.Time        `bun:"created_at,notnull"`
}

func (u user) APIUser(followers, following []string) feed.User {
	return feed.User{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		Avatar:       u.Avatar,
		Bio:          u.Bio,
		FollowerIDs:  nonNil(followers),
		FollowingIDs: nonNil(following),
		CreatedAt:    u.CreatedAt.UTC(),
	}
}

func (p post) APIPost() feed.Post {
	return feed.Post{
		ID:       p.ID,
		Content:  p.Content,
		Location: p.Location,
		Media:    apiMedia(p.Media),
		Hashtags: nonNil(p.Hashtags),
		Author: feed.Author{
			ID:          p.AuthorID,
			Username:    p.AuthorUsername,
			DisplayName: p.AuthorDisplayName,
		},
		Comments: lo.Map(p.Comments, func(c comment, _ int) feed.Comment {
			return c.APIComment()
		}),
		Likes: lo.Map(p.Likes, func(l like, _ int) string {
			return l.UserID
		}),
		CreatedAt: p.CreatedAt.UTC(),
	}
}

func (c comment) APIComment() feed.Comment {
	return feed.Comment{
		ID:      c.ID,
		Content: c.Content,
		Author: feed.Actor{
			ID:          c.AuthorID,
			Username:    c.AuthorUsername,
			DisplayName: c.AuthorDisplayName,
			Avatar:      c.AuthorAvatar,
		},
		CreatedAt: c.CreatedAt.UTC(),
	}
}

func (n notification) APINotification() feed.Notification {
	out := feed.Notification{
		ID:        n.ID,
		Type:      feed.NotificationType(n.Type),
		Actor:     n.Actor.APIActor(),
		Recipient: n.RecipientID,
		Read:      n.IsRead,
		CreatedAt: n.CreatedAt.UTC(),
	}
	if n.Post != nil {
		out.Post = &feed.PostSnapshot{
			ID:      n.Post.ID,
			Content: n.Post.Content,
			Media:   apiMedia(n.Post.Media),
		}
	}
	if n.Comment != nil {
		out.Comment = &feed.CommentSnapshot{
			ID:      n.Comment.ID,
			Content: n.Comment.Content,
			Author:  n.Comment.Author.APIActor(),
		}
	}
	return out
}

func (a actor) APIActor() feed.Actor {
	return feed.Actor{
		ID:          a.ID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		Avatar:      a.Avatar,
	}
}

func newPost(p feed.Post) *post {
	return &post{
		ID:                p.ID,
		Content:           p.Content,
		Location:          p.Location,
		Media:             dbMedia(p.Media),
		Hashtags:          nonNil(p.Hashtags),
		AuthorID:          p.Author.ID,
		AuthorUsername:    p.Author.Username,
		AuthorDisplayName: p.Author.DisplayName,
		CreatedAt:         p.CreatedAt,
	}
}

func newComment(postID string, c feed.Comment) *comment {
	return &comment{
		ID:                c.ID,
		PostID:            postID,
		Content:           c.Content,
		AuthorID:          c.Author.ID,
		AuthorUsername:    c.Author.Username,
		AuthorDisplayName: c.Author.DisplayName,
		AuthorAvatar:      c.Author.Avatar,
		CreatedAt:         c.CreatedAt,
	}
}

func newNotification(n feed.Notification) *notification {
	out := &notification{
		ID:          n.ID,
		Type:        string(n.Type),
		RecipientID: n.Recipient,
		Actor:       newActor(n.Actor),
		IsRead:      n.Read,
		CreatedAt:   n.CreatedAt,
	}
	if n.Post != nil {
		out.Post = &postSnapshot{
			ID:      n.Post.ID,
			Content: n.Post.Content,
			Media:   dbMedia(n.Post.Media),
		}
	}
	if n.Comment != nil {
		out.Comment = &commentSnapshot{
			ID:      n.Comment.ID,
			Content: n.Comment.Content,
			Author:  newActor(n.Comment.Author),
		}
	}
	return out
}

func newActor(a feed.Actor) actor {
	return actor{
		ID:          a.ID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		Avatar:      a.Avatar,
	}
}

func apiMedia(ms []media) []feed.Media {
	return lo.Map(ms, func(m media, _ int) feed.Media {
		return feed.Media{URL: m.URL, Kind: feed.MediaKind(m.Kind)}
	})
}

func dbMedia(ms []feed.Media) []media {
	return lo.Map(ms, func(m feed.Media, _ int) media {
		return media{URL: m.URL, Kind: string(m.Kind)}
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
