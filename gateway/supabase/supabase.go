// Package supabase implements gateway.Gateway against a Supabase project's
// PostgREST API.
//
// The SDK has no request cancellation, so each method checks the context
// before it issues its request and not after.
package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
	postgrest "github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

// Table names in the public schema.
const (
	PostsTable       = "posts"
	PreferencesTable = "user_preferences"
	ProfilesTable    = "user_profiles"
)

// Gateway talks to the posts, user_preferences and user_profiles tables.
type Gateway struct {
	client *supa.Client
}

var _ gateway.Gateway = (*Gateway)(nil)

// New connects to the project at url with the anon key.
func New(url, anonKey string) (*Gateway, error) {
	client, err := supa.NewClient(url, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: creating client: %w", err)
	}
	return &Gateway{client: client}, nil
}

// insertRow is the posts payload; id and created_at are column defaults.
type insertRow struct {
	AuthorID string   `json:"author_id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
}

// FetchPreferences returns the user's tags; found is false when no row exists.
func (g *Gateway) FetchPreferences(ctx context.Context, userID string) ([]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var rows []model.Preferences
	_, err := g.client.From(PreferencesTable).
		Select("user_id,preferred_tags", "", false).
		Eq("user_id", userID).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, false, fmt.Errorf("supabase: fetching preferences: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	tags := rows[0].Tags
	if tags == nil {
		tags = []string{}
	}
	return tags, true, nil
}

// UpsertPreferences replaces the user's tag set, conflicting on user_id.
func (g *Gateway) UpsertPreferences(ctx context.Context, userID string, tags []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tags == nil {
		tags = []string{}
	}

	_, _, err := g.client.From(PreferencesTable).
		Upsert(model.Preferences{UserID: userID, Tags: tags}, "user_id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase: saving preferences: %w", err)
	}
	return nil
}

// QueryPosts returns posts newest first, filtered as q describes.
func (g *Gateway) QueryPosts(ctx context.Context, q gateway.PostQuery) ([]model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fb := g.client.From(PostsTable).Select("*", "", false)
	if len(q.AnyTags) > 0 {
		fb = fb.Overlaps("tags", q.AnyTags)
	}
	if q.Since != nil {
		fb = fb.Gte("created_at", q.Since.UTC().Format(time.RFC3339Nano))
	}
	fb = fb.Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if q.Limit > 0 {
		fb = fb.Limit(q.Limit, "")
	}

	posts := []model.Post{}
	if _, err := fb.ExecuteTo(&posts); err != nil {
		return nil, fmt.Errorf("supabase: querying posts: %w", err)
	}
	return posts, nil
}

// InsertPost stores d and returns the row the server created.
func (g *Gateway) InsertPost(ctx context.Context, d model.Draft) (*model.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := insertRow{AuthorID: d.AuthorID, Title: d.Title, Content: d.Content, Tags: d.Tags}
	var created []model.Post
	_, err := g.client.From(PostsTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&created)
	if err != nil {
		return nil, fmt.Errorf("supabase: inserting post: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("supabase: inserting post: no row returned")
	}
	return &created[0], nil
}

// UpsertProfile creates or updates the profile keyed by user_id.
func (g *Gateway) UpsertProfile(ctx context.Context, p model.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := g.client.From(ProfilesTable).
		Upsert(p, "user_id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase: saving profile: %w", err)
	}
	return nil
}

// GetProfile returns apperror.ErrNotFound when the user has no profile.
func (g *Gateway) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []model.Profile
	_, err := g.client.From(ProfilesTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: fetching profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperror.NotFound("profile", userID)
	}
	return &rows[0], nil
}

// DeleteUserData removes the user's rows table by table. PostgREST has no
// multi-table transaction, so a failure part way leaves earlier tables
// cleared; the call is safe to repeat.
func (g *Gateway) DeleteUserData(ctx context.Context, userID string) error {
	steps := []struct {
		table, column string
	}{
		{PostsTable, "author_id"},
		{PreferencesTable, "user_id"},
		{ProfilesTable, "user_id"},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, _, err := g.client.From(s.table).
			Delete("minimal", "").
			Eq(s.column, userID).
			Execute()
		if err != nil {
			return fmt.Errorf("supabase: deleting from %s: %w", s.table, err)
		}
	}
	return nil
}
