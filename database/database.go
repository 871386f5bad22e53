// Package database provides storage of users, posts and notifications in
// PostgreSQL or, for development and tests, in an embedded SQLite database.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GetStream/stream-social-feed/feed"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

// DB provides storage in a SQL database.
type DB struct {
	bun *bun.DB
}

// Connect connects to the database described by dsn and pings it to ensure
// the connection is working. A postgres:// or postgresql:// DSN selects
// PostgreSQL, anything else is handed to SQLite.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	var db *bun.DB
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqlDB, pgdialect.New())
	} else {
		sqlDB, err := sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite has a single writer; one connection keeps transactions
		// serialised instead of failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}
	return &DB{bun: db}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.bun.Close()
}

func (db *DB) postgres() bool {
	return db.bun.Dialect().Name() == dialect.PG
}

// UpsertUser inserts the user or refreshes its identity fields. Bio and avatar
// of an existing user are left untouched.
func (db *DB) UpsertUser(ctx context.Context, u feed.User) (feed.User, error) {
	m := &user{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Bio:         u.Bio,
		CreatedAt:   u.CreatedAt,
	}
	_, err := db.bun.NewInsert().
		Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("display_name = EXCLUDED.display_name").
		Exec(ctx)
	if err != nil {
		err = classify(err)
		// The only constraint besides the primary key is the unique username.
		if errors.Is(err, feed.ErrValidation) {
			return feed.User{}, fmt.Errorf("%w: username %s is taken", feed.ErrValidation, u.Username)
		}
		return feed.User{}, fmt.Errorf("upsert: %w", err)
	}
	return db.GetUser(ctx, u.ID)
}

// GetUser returns the user with its follower and following ids.
func (db *DB) GetUser(ctx context.Context, id string) (feed.User, error) {
	return db.getUser(ctx, db.bun.NewSelect().Model((*user)(nil)).Where("id = ?", id))
}

// GetUserByUsername returns the user called username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (feed.User, error) {
	return db.getUser(ctx, db.bun.NewSelect().Model((*user)(nil)).Where("username = ?", username))
}

func (db *DB) getUser(ctx context.Context, q *bun.SelectQuery) (feed.User, error) {
	var u user
	if err := q.Model(&u).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return feed.User{}, fmt.Errorf("%w: user", feed.ErrNotFound)
		}
		return feed.User{}, fmt.Errorf("scan: %w", classify(err))
	}

	var followers, following []string
	err := db.bun.NewSelect().
		Model((*follow)(nil)).
		Column("follower_id").
		Where("followee_id = ?", u.ID).
		Order("created_at ASC").
		Scan(ctx, &followers)
	if err != nil {
		return feed.User{}, fmt.Errorf("scan followers: %w", classify(err))
	}
	err = db.bun.NewSelect().
		Model((*follow)(nil)).
		Column("followee_id").
		Where("follower_id = ?", u.ID).
		Order("created_at ASC").
		Scan(ctx, &following)
	if err != nil {
		return feed.User{}, fmt.Errorf("scan following: %w", classify(err))
	}
	return u.APIUser(followers, following), nil
}

// UpdateProfile changes the bio and/or avatar of a user.
func (db *DB) UpdateProfile(ctx context.Context, id string, upd feed.ProfileUpdate) (feed.User, error) {
	q := db.bun.NewUpdate().Model((*user)(nil)).Where("id = ?", id)
	if upd.Bio != nil {
		q = q.Set("bio = ?", *upd.Bio)
	}
	if upd.Avatar != nil {
		q = q.Set("avatar = ?", *upd.Avatar)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return feed.User{}, fmt.Errorf("update: %w", classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return feed.User{}, fmt.Errorf("%w: user", feed.ErrNotFound)
	}
	return db.GetUser(ctx, id)
}

// InsertPost inserts a post. The returned post is read back from the
// database.
func (db *DB) InsertPost(ctx context.Context, p feed.Post) (feed.Post, error) {
	if _, err := db.bun.NewInsert().Model(newPost(p)).Exec(ctx); err != nil {
		return feed.Post{}, fmt.Errorf("insert: %w", classify(err))
	}
	return db.getPost(ctx, db.bun, p.ID)
}

// GetPost returns the post with its comments and likes.
func (db *DB) GetPost(ctx context.Context, id string) (feed.Post, error) {
	return db.getPost(ctx, db.bun, id)
}

func (db *DB) getPost(ctx context.Context, idb bun.IDB, id string) (feed.Post, error) {
	var p post
	err := withRelations(idb.NewSelect().Model(&p).Where("id = ?", id)).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return feed.Post{}, fmt.Errorf("%w: post %s", feed.ErrNotFound, id)
		}
		return feed.Post{}, fmt.Errorf("scan: %w", classify(err))
	}
	return p.APIPost(), nil
}

// ListPosts returns posts newest first.
func (db *DB) ListPosts(ctx context.Context, limit, offset int, excludeIDs ...string) ([]feed.Post, error) {
	var posts []post
	q := withRelations(db.bun.NewSelect().Model(&posts)).
		Order("created_at DESC", "id DESC").
		Limit(limit).
		Offset(offset)

	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(excludeIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", classify(err))
	}
	return apiPosts(posts), nil
}

// ListPostsByIDs returns the posts with the given ids, newest first. Unknown
// ids are skipped.
func (db *DB) ListPostsByIDs(ctx context.Context, ids []string) ([]feed.Post, error) {
	if len(ids) == 0 {
		return []feed.Post{}, nil
	}
	var posts []post
	err := withRelations(db.bun.NewSelect().Model(&posts)).
		Where("id IN (?)", bun.In(ids)).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", classify(err))
	}
	return apiPosts(posts), nil
}

// ListPostsByAuthor returns the posts whose author snapshot carries username,
// newest first.
func (db *DB) ListPostsByAuthor(ctx context.Context, username string) ([]feed.Post, error) {
	var posts []post
	err := withRelations(db.bun.NewSelect().Model(&posts)).
		Where("author_username = ?", username).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", classify(err))
	}
	return apiPosts(posts), nil
}

// AppendComment appends c to the post inside a transaction holding the post
// row lock. The comment is stamped no earlier than c.CreatedAt and strictly
// after the last comment already on the post, so creation order matches
// commit order.
func (db *DB) AppendComment(ctx context.Context, postID string, c feed.Comment) (feed.Post, error) {
	var out feed.Post
	err := db.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := db.lockPost(ctx, tx, postID); err != nil {
			return err
		}

		var last comment
		err := tx.NewSelect().
			Model(&last).
			Column("created_at").
			Where("post_id = ?", postID).
			Order("created_at DESC", "id DESC").
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("scan last comment: %w", classify(err))
		case !c.CreatedAt.After(last.CreatedAt):
			c.CreatedAt = last.CreatedAt.Add(time.Microsecond)
		}

		if _, err := tx.NewInsert().Model(newComment(postID, c)).Exec(ctx); err != nil {
			return fmt.Errorf("insert comment: %w", classify(err))
		}
		p, err := db.getPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return feed.Post{}, err
	}
	return out, nil
}

// ToggleLike adds userID to the like set of the post if absent and removes it
// otherwise. The decision and the write happen under the post row lock, so
// concurrent toggles of the same user alternate.
func (db *DB) ToggleLike(ctx context.Context, postID, userID string, at time.Time) (feed.Post, bool, error) {
	var (
		out   feed.Post
		liked bool
	)
	err := db.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := db.lockPost(ctx, tx, postID); err != nil {
			return err
		}

		res, err := tx.NewDelete().
			Model((*like)(nil)).
			Where("post_id = ?", postID).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete like: %w", classify(err))
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if removed == 0 {
			res, err := tx.NewInsert().
				Model(&like{PostID: postID, UserID: userID, CreatedAt: at}).
				On("CONFLICT DO NOTHING").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("insert like: %w", classify(err))
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: like of %s on %s inserted concurrently", feed.ErrConflict, userID, postID)
			}
		}
		liked = removed == 0

		p, err := db.getPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return feed.Post{}, false, err
	}
	return out, liked, nil
}

// ToggleFollow adds the follower -> followee edge if absent and removes it
// otherwise. Both users are locked in id order for the duration of the
// transaction.
func (db *DB) ToggleFollow(ctx context.Context, followerID, followeeID string, at time.Time) (bool, error) {
	var following bool
	err := db.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		locked, err := db.lockUsers(ctx, tx, followerID, followeeID)
		if err != nil {
			return err
		}
		if !locked[followeeID] {
			return fmt.Errorf("%w: user %s", feed.ErrNotFound, followeeID)
		}

		res, err := tx.NewDelete().
			Model((*follow)(nil)).
			Where("follower_id = ?", followerID).
			Where("followee_id = ?", followeeID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete follow: %w", classify(err))
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if removed > 0 {
			following = false
			return nil
		}

		res, err = tx.NewInsert().
			Model(&follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: at}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert follow: %w", classify(err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: follow %s -> %s inserted concurrently", feed.ErrConflict, followerID, followeeID)
		}
		following = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return following, nil
}

// InsertNotification inserts a notification.
func (db *DB) InsertNotification(ctx context.Context, n feed.Notification) (feed.Notification, error) {
	m := newNotification(n)
	if _, err := db.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return feed.Notification{}, fmt.Errorf("insert: %w", classify(err))
	}
	return m.APINotification(), nil
}

// ListNotifications returns all notifications of recipient, most recent
// first.
func (db *DB) ListNotifications(ctx context.Context, recipient string) ([]feed.Notification, error) {
	var ns []notification
	err := db.bun.NewSelect().
		Model(&ns).
		Where("recipient_id = ?", recipient).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", classify(err))
	}
	out := make([]feed.Notification, len(ns))
	for i, n := range ns {
		out[i] = n.APINotification()
	}
	return out, nil
}

// CountUnread counts the unread notifications of recipient.
func (db *DB) CountUnread(ctx context.Context, recipient string) (int, error) {
	n, err := db.bun.NewSelect().
		Model((*notification)(nil)).
		Where("recipient_id = ?", recipient).
		Where("is_read = ?", false).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", classify(err))
	}
	return n, nil
}

// MarkRead marks the notification as read if it belongs to recipient and
// reports whether the flag changed.
func (db *DB) MarkRead(ctx context.Context, id, recipient string) (feed.Notification, bool, error) {
	var (
		out     feed.Notification
		changed bool
	)
	err := db.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var n notification
		err := tx.NewSelect().
			Model(&n).
			Where("id = ?", id).
			Where("recipient_id = ?", recipient).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: notification %s", feed.ErrNotFound, id)
			}
			return fmt.Errorf("scan: %w", classify(err))
		}

		if !n.IsRead {
			res, err := tx.NewUpdate().
				Model((*notification)(nil)).
				Set("is_read = ?", true).
				Where("id = ?", id).
				Where("is_read = ?", false).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update: %w", classify(err))
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			changed = affected == 1
			n.IsRead = true
		}
		out = n.APINotification()
		return nil
	})
	if err != nil {
		return feed.Notification{}, false, err
	}
	return out, changed, nil
}

// MarkAllRead marks every unread notification of recipient created at or
// before cutoff as read in a single statement.
func (db *DB) MarkAllRead(ctx context.Context, recipient string, cutoff time.Time) (int, error) {
	res, err := db.bun.NewUpdate().
		Model((*notification)(nil)).
		Set("is_read = ?", true).
		Where("recipient_id = ?", recipient).
		Where("is_read = ?", false).
		Where("created_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// lockPost makes sure the post exists and, on PostgreSQL, holds its row lock
// until the transaction ends.
func (db *DB) lockPost(ctx context.Context, tx bun.Tx, postID string) error {
	q := tx.NewSelect().Model((*post)(nil)).Column("id").Where("id = ?", postID)
	if db.postgres() {
		q = q.For("UPDATE")
	}
	var id string
	if err := q.Scan(ctx, &id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: post %s", feed.ErrNotFound, postID)
		}
		return fmt.Errorf("lock post: %w", classify(err))
	}
	return nil
}

// lockUsers locks the rows of the given users in id order and reports which
// of them exist.
func (db *DB) lockUsers(ctx context.Context, tx bun.Tx, ids ...string) (map[string]bool, error) {
	q := tx.NewSelect().
		Model((*user)(nil)).
		Column("id").
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC")
	if db.postgres() {
		q = q.For("UPDATE")
	}
	var found []string
	if err := q.Scan(ctx, &found); err != nil {
		return nil, fmt.Errorf("lock users: %w", classify(err))
	}
	out := make(map[string]bool, len(found))
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func withRelations(q *bun.SelectQuery) *bun.SelectQuery {
	return q.
		Relation("Comments", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at ASC", "id ASC")
		}).
		Relation("Likes", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at ASC", "user_id ASC")
		})
}

func apiPosts(posts []post) []feed.Post {
	out := make([]feed.Post, len(posts))
	for i, p := range posts {
		out[i] = p.APIPost()
	}
	return out
}
