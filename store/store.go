// Package store provides the local SQLite backend for tagfeed.
//
// A Store serves two roles. It implements gateway.Gateway so the client can
// run against a local database file instead of the managed backend, and it
// implements session.Cache, the device-local key/value storage holding the
// signed-in user.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
	_ "modernc.org/sqlite"
)

// Store manages the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ gateway.Gateway = (*Store)(nil)

// New creates a new Store with the given database path.
// Use ":memory:" for an in-memory database (useful for testing).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}

	// Initialize schema
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the clock used to stamp new posts.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// createSchema creates the database tables and indexes.
func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id TEXT PRIMARY KEY,
		preferred_tags TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT,
		picture TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the cached value for key. A missing key yields ok == false.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

// FetchPreferences retrieves the preferred tags for a user.
func (s *Store) FetchPreferences(ctx context.Context, userID string) ([]string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT preferred_tags FROM user_preferences WHERE user_id = ?", userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get preferences: %w", err)
	}

	tags, err := decodeTags(raw)
	if err != nil {
		return nil, false, err
	}
	return tags, true, nil
}

// UpsertPreferences creates or replaces the preferred tags for a user.
func (s *Store) UpsertPreferences(ctx context.Context, userID string, tags []string) error {
	raw, err := encodeTags(tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, preferred_tags) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET preferred_tags = excluded.preferred_tags`,
		userID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// InsertPost saves a new post. The store assigns its ID and timestamp.
func (s *Store) InsertPost(ctx context.Context, d model.Draft) (*model.Post, error) {
	raw, err := encodeTags(d.Tags)
	if err != nil {
		return nil, err
	}

	post := &model.Post{
		ID:        uuid.NewString(),
		AuthorID:  d.AuthorID,
		Title:     d.Title,
		Content:   d.Content,
		Tags:      append([]string(nil), d.Tags...),
		CreatedAt: s.now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO posts (id, author_id, title, content, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		post.ID, post.AuthorID, post.Title, post.Content, raw, post.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert post: %w", err)
	}
	return post, nil
}

// QueryPosts retrieves posts newest first with optional tag overlap, lower
// time bound and row cap.
func (s *Store) QueryPosts(ctx context.Context, q gateway.PostQuery) ([]model.Post, error) {
	query := "SELECT id, author_id, title, content, tags, created_at FROM posts WHERE 1=1"
	args := []interface{}{}

	// Apply filters
	if len(q.AnyTags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.AnyTags)), ",")
		query += " AND EXISTS (SELECT 1 FROM json_each(posts.tags) WHERE json_each.value IN (" + placeholders + "))"
		for _, tag := range q.AnyTags {
			args = append(args, tag)
		}
	}

	if q.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, q.Since.UnixNano())
	}

	// Order by creation time (newest first)
	query += " ORDER BY created_at DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	posts := []model.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *post)
	}

	return posts, rows.Err()
}

// UpsertProfile creates or replaces a user profile.
func (s *Store) UpsertProfile(ctx context.Context, p model.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, email, name, picture) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET email = excluded.email, name = excluded.name, picture = excluded.picture`,
		p.UserID, p.Email, p.Name, p.Picture,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a user profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	var name, picture sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, email, name, picture FROM user_profiles WHERE user_id = ?", userID,
	).Scan(&p.UserID, &p.Email, &name, &picture)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("profile", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p.Name = name.String
	p.Picture = picture.String
	return p, nil
}

// DeleteUserData removes every row owned by userID in one transaction.
func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		"DELETE FROM posts WHERE author_id = ?",
		"DELETE FROM user_preferences WHERE user_id = ?",
		"DELETE FROM user_profiles WHERE user_id = ?",
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("failed to delete user data: %w", err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var rawTags string
	var createdUnix int64

	if err := row.Scan(&post.ID, &post.AuthorID, &post.Title, &post.Content, &rawTags, &createdUnix); err != nil {
		return nil, err
	}

	tags, err := decodeTags(rawTags)
	if err != nil {
		return nil, err
	}
	post.Tags = tags
	post.CreatedAt = time.Unix(0, createdUnix).UTC()
	return post, nil
}

// Tags are stored as JSON arrays so json_each can filter on them.
func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(raw), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return tags, nil
}
