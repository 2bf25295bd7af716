package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
	"github.com/robertmeta/tagfeed/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGateway records queries and delegates to a real store.
type countingGateway struct {
	gateway.Gateway
	queries []gateway.PostQuery
	err     error
}

func (c *countingGateway) QueryPosts(ctx context.Context, q gateway.PostQuery) ([]model.Post, error) {
	c.queries = append(c.queries, q)
	if c.err != nil {
		return nil, c.err
	}
	return c.Gateway.QueryPosts(ctx, q)
}

func newTestBackend(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAssembler_PersonalizedEmptyTagsIssuesNoQuery(t *testing.T) {
	gw := &countingGateway{Gateway: newTestBackend(t)}
	a := NewAssembler(gw)

	posts, err := a.Personalized(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)

	posts, err = a.Personalized(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, posts)

	assert.Empty(t, gw.queries, "no query for an empty tag set")
}

func TestAssembler_PersonalizedTech(t *testing.T) {
	s := newTestBackend(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	s.SetClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	})

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		tags := []string{"tech"}
		if i%5 == 0 {
			tags = []string{"art"}
		}
		_, err := s.InsertPost(ctx, model.Draft{
			AuthorID: "ada@example.com",
			Title:    fmt.Sprintf("post %d", i),
			Content:  "body",
			Tags:     tags,
		})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := s.InsertPost(ctx, model.Draft{AuthorID: "bob", Title: "mixed", Content: "c", Tags: []string{"art", "tech"}})
		require.NoError(t, err)
	}

	gw := &countingGateway{Gateway: s}
	posts, err := NewAssembler(gw).Personalized(ctx, []string{"tech"})
	require.NoError(t, err)

	require.Len(t, posts, PageSize)
	for i, p := range posts {
		assert.True(t, model.ContainsTag(p.Tags, "tech"), "post %s lacks tag", p.Title)
		if i > 0 {
			assert.False(t, p.CreatedAt.After(posts[i-1].CreatedAt), "newest first")
		}
	}
	assert.Equal(t, "mixed", posts[0].Title)

	require.Len(t, gw.queries, 1)
	assert.Equal(t, PageSize, gw.queries[0].Limit)
	assert.Equal(t, []string{"tech"}, gw.queries[0].AnyTags)
}

func TestAssembler_GlobalNewestFirst(t *testing.T) {
	s := newTestBackend(t)
	ctx := context.Background()
	base := time.Unix(0, 0)

	s.SetClock(func() time.Time { return base.Add(100 * time.Second) })
	p1, err := s.InsertPost(ctx, model.Draft{AuthorID: "a", Title: "1", Content: "c", Tags: []string{"x"}})
	require.NoError(t, err)
	s.SetClock(func() time.Time { return base.Add(200 * time.Second) })
	p2, err := s.InsertPost(ctx, model.Draft{AuthorID: "a", Title: "2", Content: "c", Tags: []string{"x"}})
	require.NoError(t, err)

	posts, err := NewAssembler(s).Global(ctx, nil)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, p2.ID, posts[0].ID)
	assert.Equal(t, p1.ID, posts[1].ID)
}

func TestAssembler_GlobalIsUnbounded(t *testing.T) {
	s := newTestBackend(t)
	ctx := context.Background()
	for i := 0; i < PageSize+15; i++ {
		_, err := s.InsertPost(ctx, model.Draft{AuthorID: "a", Title: "t", Content: "c", Tags: []string{"x"}})
		require.NoError(t, err)
	}

	gw := &countingGateway{Gateway: s}
	posts, err := NewAssembler(gw).Global(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, posts, PageSize+15)
	require.Len(t, gw.queries, 1)
	assert.Zero(t, gw.queries[0].Limit)
}

func TestAssembler_PropagatesErrors(t *testing.T) {
	gw := &countingGateway{Gateway: newTestBackend(t), err: errors.New("backend down")}
	a := NewAssembler(gw)

	_, err := a.Personalized(context.Background(), []string{"tech"})
	assert.ErrorContains(t, err, "backend down")

	_, err = a.Global(context.Background(), nil)
	assert.ErrorContains(t, err, "backend down")
}
