// Package feed assembles the global and personalized post feeds and imports
// posts from RSS/Atom sources.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
)

// PageSize is the number of posts in a personalized feed.
const PageSize = 20

// Assembler builds feeds from a gateway.
type Assembler struct {
	gw gateway.Gateway
}

// NewAssembler creates an Assembler over gw.
func NewAssembler(gw gateway.Gateway) *Assembler {
	return &Assembler{gw: gw}
}

// Personalized returns the PageSize most recent posts sharing at least one
// tag with tags. An empty tag set yields an empty feed without a query.
func (a *Assembler) Personalized(ctx context.Context, tags []string) ([]model.Post, error) {
	if len(tags) == 0 {
		return []model.Post{}, nil
	}

	posts, err := a.gw.QueryPosts(ctx, gateway.PostQuery{
		AnyTags: append([]string(nil), tags...),
		Limit:   PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("feed: personalized: %w", err)
	}
	return posts, nil
}

// Global returns every post, newest first. A non-nil since drops posts
// created before it.
func (a *Assembler) Global(ctx context.Context, since *time.Time) ([]model.Post, error) {
	posts, err := a.gw.QueryPosts(ctx, gateway.PostQuery{Since: since})
	if err != nil {
		return nil, fmt.Errorf("feed: global: %w", err)
	}
	return posts, nil
}
