// Package account exposes the signed-in user's profile and account
// lifecycle: showing who is signed in, mirroring the profile to the
// backend, signing out and deleting everything the user owns.
package account

import (
	"context"
	"fmt"

	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
	"github.com/robertmeta/tagfeed/session"
	"go.uber.org/zap"
)

// Manager ties the session cache to the backend profile collection.
type Manager struct {
	sessions *session.Resolver
	gw       gateway.Gateway
	logger   *zap.Logger
}

func NewManager(sessions *session.Resolver, gw gateway.Gateway, logger *zap.Logger) *Manager {
	return &Manager{sessions: sessions, gw: gw, logger: logger}
}

// Show returns the cached user.
func (m *Manager) Show(ctx context.Context) (*model.UserInfo, error) {
	info, ok := m.sessions.Current(ctx)
	if !ok {
		return nil, apperror.SignedOut()
	}
	return info, nil
}

// SyncProfile writes the cached user to the profile collection.
func (m *Manager) SyncProfile(ctx context.Context) (*model.Profile, error) {
	info, err := m.Show(ctx)
	if err != nil {
		return nil, err
	}

	p := model.Profile{
		UserID:  info.UserID(),
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}
	if err := m.gw.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("account: syncing profile: %w", err)
	}
	return &p, nil
}

// Logout clears the session. Signing out while signed out is not an error.
func (m *Manager) Logout(ctx context.Context) error {
	return m.sessions.SignOut(ctx)
}

// Delete removes the user's posts, preferences and profile, then signs out.
// The session is kept when the backend call fails so it can be retried.
func (m *Manager) Delete(ctx context.Context) error {
	userID, ok := m.sessions.Resolve(ctx)
	if !ok {
		return apperror.SignedOut()
	}
	if err := m.gw.DeleteUserData(ctx, userID); err != nil {
		return fmt.Errorf("account: deleting user data: %w", err)
	}
	m.logger.Info("account deleted", zap.String("user", userID))
	return m.sessions.SignOut(ctx)
}
