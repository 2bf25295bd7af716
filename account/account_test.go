package account

import (
	"context"
	"errors"
	"testing"

	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
	"github.com/robertmeta/tagfeed/session"
	"github.com/robertmeta/tagfeed/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingDelete struct {
	gateway.Gateway
}

func (failingDelete) DeleteUserData(ctx context.Context, userID string) error {
	return errors.New("backend down")
}

func setup(t *testing.T) (*session.Resolver, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return session.NewResolver(s, zap.NewNop()), s
}

var alice = &model.UserInfo{Email: "alice@example.com", Name: "Alice", Picture: "https://example.com/a.png"}

func TestShow(t *testing.T) {
	r, s := setup(t)
	m := NewManager(r, s, zap.NewNop())
	ctx := context.Background()

	_, err := m.Show(ctx)
	assert.ErrorIs(t, err, apperror.ErrSignedOut)

	require.NoError(t, r.SignIn(ctx, alice))
	info, err := m.Show(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, "Alice", info.Name)
}

func TestSyncProfile(t *testing.T) {
	r, s := setup(t)
	m := NewManager(r, s, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, r.SignIn(ctx, alice))

	p, err := m.SyncProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", p.UserID)

	stored, err := s.GetProfile(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Name)
	assert.Equal(t, alice.Picture, stored.Picture)
}

func TestLogout(t *testing.T) {
	r, s := setup(t)
	m := NewManager(r, s, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, r.SignIn(ctx, alice))

	require.NoError(t, m.Logout(ctx))
	_, ok := r.Resolve(ctx)
	assert.False(t, ok)

	assert.NoError(t, m.Logout(ctx), "logout twice is fine")
}

func TestDelete(t *testing.T) {
	r, s := setup(t)
	m := NewManager(r, s, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, r.SignIn(ctx, alice))

	_, err := s.InsertPost(ctx, model.Draft{AuthorID: alice.Email, Title: "t", Content: "c", Tags: []string{"go"}})
	require.NoError(t, err)
	require.NoError(t, s.UpsertPreferences(ctx, alice.Email, []string{"go"}))
	_, err = m.SyncProfile(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx))

	posts, err := s.QueryPosts(ctx, gateway.PostQuery{})
	require.NoError(t, err)
	assert.Empty(t, posts)
	_, found, err := s.FetchPreferences(ctx, alice.Email)
	require.NoError(t, err)
	assert.False(t, found)
	_, err = s.GetProfile(ctx, alice.Email)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, ok := r.Resolve(ctx)
	assert.False(t, ok)
}

func TestDelete_FailureKeepsSession(t *testing.T) {
	r, s := setup(t)
	m := NewManager(r, failingDelete{Gateway: s}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, r.SignIn(ctx, alice))

	require.Error(t, m.Delete(ctx))
	_, ok := r.Resolve(ctx)
	assert.True(t, ok)
}

func TestDelete_SignedOut(t *testing.T) {
	r, s := setup(t)
	m := NewManager(r, s, zap.NewNop())
	assert.ErrorIs(t, m.Delete(context.Background()), apperror.ErrSignedOut)
}
