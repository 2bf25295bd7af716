// Package gateway defines the remote data gateway tagfeed talks to.
//
// A Gateway wraps the three logical collections the client uses (posts,
// user preferences and user profiles). Implementations live in
// gateway/supabase, gateway/postgres and the local SQLite store.
package gateway

import (
	"context"
	"time"

	"github.com/robertmeta/tagfeed/model"
)

// PostQuery describes a posts query. Results are always ordered by
// creation time, newest first.
type PostQuery struct {
	// AnyTags restricts results to posts sharing at least one tag with it.
	// Empty means no tag filter.
	AnyTags []string
	// Since restricts results to posts created at or after it.
	Since *time.Time
	// Limit caps the result; 0 means no cap.
	Limit int
}

// Gateway is the capability set consumed by the tagfeed workflows.
type Gateway interface {
	// FetchPreferences returns the user's preferred tags. A user without a
	// stored record yields found == false and no error.
	FetchPreferences(ctx context.Context, userID string) (tags []string, found bool, err error)
	// UpsertPreferences creates or replaces the user's preferred tags.
	UpsertPreferences(ctx context.Context, userID string, tags []string) error
	QueryPosts(ctx context.Context, q PostQuery) ([]model.Post, error)
	InsertPost(ctx context.Context, d model.Draft) (*model.Post, error)
	UpsertProfile(ctx context.Context, p model.Profile) error
	// GetProfile returns apperror.ErrNotFound when no profile exists.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	// DeleteUserData removes the user's posts, preferences and profile.
	DeleteUserData(ctx context.Context, userID string) error
}
