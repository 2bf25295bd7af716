// Package session resolves the signed-in user from the local session cache.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robertmeta/tagfeed/model"
	"go.uber.org/zap"
)

// UserKey is the cache key holding the serialized signed-in user.
const UserKey = "@user"

// Cache is device-local key/value storage. Get reports ok == false for a
// missing key.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Resolver reads and writes the signed-in user. It never caches the
// identity itself: every call goes back to the Cache, so sign-in and
// sign-out are visible immediately.
type Resolver struct {
	cache  Cache
	logger *zap.Logger
}

// NewResolver creates a Resolver over cache.
func NewResolver(cache Cache, logger *zap.Logger) *Resolver {
	return &Resolver{cache: cache, logger: logger}
}

// Current returns the cached user. A missing, unreadable or malformed
// session yields ok == false; the cause is logged and never returned.
func (r *Resolver) Current(ctx context.Context) (*model.UserInfo, bool) {
	raw, ok, err := r.cache.Get(ctx, UserKey)
	if err != nil {
		r.logger.Warn("reading session cache failed", zap.Error(err))
		return nil, false
	}
	if !ok || raw == "" {
		return nil, false
	}

	var info model.UserInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		r.logger.Warn("discarding malformed session", zap.Error(err))
		return nil, false
	}
	if info.UserID() == "" {
		r.logger.Warn("discarding session without email")
		return nil, false
	}
	return &info, true
}

// Resolve returns the identity of the signed-in user, or ok == false.
func (r *Resolver) Resolve(ctx context.Context) (string, bool) {
	info, ok := r.Current(ctx)
	if !ok {
		return "", false
	}
	return info.UserID(), true
}

// SignIn stores info as the signed-in user.
func (r *Resolver) SignIn(ctx context.Context, info *model.UserInfo) error {
	if info == nil || info.UserID() == "" {
		return fmt.Errorf("session: user info has no email")
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("session: encoding user info: %w", err)
	}
	if err := r.cache.Set(ctx, UserKey, string(raw)); err != nil {
		return fmt.Errorf("session: storing user info: %w", err)
	}
	r.logger.Info("signed in", zap.String("user", info.UserID()))
	return nil
}

// SignOut clears the cached user.
func (r *Resolver) SignOut(ctx context.Context) error {
	if err := r.cache.Delete(ctx, UserKey); err != nil {
		return fmt.Errorf("session: clearing user info: %w", err)
	}
	return nil
}
