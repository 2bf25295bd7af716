// Package postgres implements gateway.Gateway directly against the
// backend's Postgres database, bypassing the REST layer.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
)

// Schema creates the tables when they do not exist. The managed backend
// ships the same definitions as migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS posts (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	author_id  text NOT NULL,
	title      text NOT NULL,
	content    text NOT NULL,
	tags       text[] NOT NULL DEFAULT '{}',
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS posts_tags_idx ON posts USING gin (tags);
CREATE INDEX IF NOT EXISTS posts_created_at_idx ON posts (created_at DESC);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id        text PRIMARY KEY,
	preferred_tags text[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id text PRIMARY KEY,
	email   text NOT NULL,
	name    text,
	picture text
);
`

// Gateway runs queries on a connection pool.
type Gateway struct {
	pool *pgxpool.Pool
}

var _ gateway.Gateway = (*Gateway)(nil)

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Gateway{pool: pool}, nil
}

// Migrate applies Schema.
func (g *Gateway) Migrate(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// FetchPreferences returns the user's tags; found is false when no row exists.
func (g *Gateway) FetchPreferences(ctx context.Context, userID string) ([]string, bool, error) {
	var tags []string
	err := g.pool.QueryRow(ctx,
		`SELECT preferred_tags FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&tags)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: fetch preferences: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, true, nil
}

// UpsertPreferences replaces the user's tag set.
func (g *Gateway) UpsertPreferences(ctx context.Context, userID string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	_, err := g.pool.Exec(ctx,
		`INSERT INTO user_preferences (user_id, preferred_tags) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET preferred_tags = EXCLUDED.preferred_tags`,
		userID, tags,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert preferences: %w", err)
	}
	return nil
}

const postColumns = `id::text, author_id, title, content, tags, created_at`

// buildQuery renders q as a SELECT over posts.
func buildQuery(q gateway.PostQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(q.AnyTags) > 0 {
		args = append(args, q.AnyTags)
		where = append(where, fmt.Sprintf("tags && $%d", len(args)))
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + postColumns + " FROM posts")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

// QueryPosts returns posts newest first, filtered as q describes.
func (g *Gateway) QueryPosts(ctx context.Context, q gateway.PostQuery) ([]model.Post, error) {
	sql, args := buildQuery(q)
	rows, err := g.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query posts: %w", err)
	}
	defer rows.Close()

	posts := []model.Post{}
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Content, &p.Tags, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query posts: %w", err)
	}
	return posts, nil
}

// InsertPost stores d and returns the row with its generated ID and timestamp.
func (g *Gateway) InsertPost(ctx context.Context, d model.Draft) (*model.Post, error) {
	var p model.Post
	err := g.pool.QueryRow(ctx,
		`INSERT INTO posts (author_id, title, content, tags) VALUES ($1, $2, $3, $4)
		 RETURNING `+postColumns,
		d.AuthorID, d.Title, d.Content, d.Tags,
	).Scan(&p.ID, &p.AuthorID, &p.Title, &p.Content, &p.Tags, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert post: %w", err)
	}
	return &p, nil
}

// UpsertProfile creates or updates the profile keyed by UserID.
func (g *Gateway) UpsertProfile(ctx context.Context, p model.Profile) error {
	_, err := g.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, email, name, picture) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET email = EXCLUDED.email, name = EXCLUDED.name, picture = EXCLUDED.picture`,
		p.UserID, p.Email, p.Name, p.Picture,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns apperror.ErrNotFound when the user has no profile.
func (g *Gateway) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var (
		p             model.Profile
		name, picture *string
	)
	err := g.pool.QueryRow(ctx,
		`SELECT user_id, email, name, picture FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.Email, &name, &picture)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("profile", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get profile: %w", err)
	}
	if name != nil {
		p.Name = *name
	}
	if picture != nil {
		p.Picture = *picture
	}
	return &p, nil
}

// DeleteUserData removes the user's posts, preferences and profile in one
// transaction.
func (g *Gateway) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		`DELETE FROM posts WHERE author_id = $1`,
		`DELETE FROM user_preferences WHERE user_id = $1`,
		`DELETE FROM user_profiles WHERE user_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, userID); err != nil {
			return fmt.Errorf("postgres: delete user data: %w", err)
		}
	}
	return tx.Commit(ctx)
}
