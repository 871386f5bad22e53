package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the tables and indexes if they do not exist yet.
func (db *DB) CreateSchema(ctx context.Context) error {
	models := []any{
		(*user)(nil),
		(*follow)(nil),
		(*post)(nil),
		(*comment)(nil),
		(*like)(nil),
		(*notification)(nil),
	}
	for _, m := range models {
		if _, err := db.bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", classify(err))
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*follow)(nil), "follows_followee_idx", []string{"followee_id"}},
		{(*post)(nil), "posts_created_at_idx", []string{"created_at", "id"}},
		{(*post)(nil), "posts_author_username_idx", []string{"author_username"}},
		{(*comment)(nil), "comments_post_id_idx", []string{"post_id", "created_at"}},
		{(*notification)(nil), "notifications_recipient_idx", []string{"recipient_id", "created_at"}},
	}
	for _, idx := range indexes {
		_, err := db.bun.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			IfNotExists().
			Column(idx.columns...).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, classify(err))
		}
	}
	return nil
}
