// Package prefs keeps a user's preferred tags in sync with the backend and
// recomputes the personalized feed whenever they change.
//
// Mutations are applied to the in-memory set before the backend confirms
// them. Every mutation carries a sequence number: a successful save
// confirms the uploaded set unless a newer save was already confirmed, and
// a failed save is rolled back by rebuilding the set from the last
// confirmed one plus the mutations still in flight.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/feed"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/model"
	"go.uber.org/zap"
)

// ErrNotLoaded is returned by mutations issued before Load succeeded.
var ErrNotLoaded = errors.New("prefs: preferences not loaded")

// State is the observable lifecycle state of a Store.
type State int

const (
	Loading State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Identity resolves the signed-in user at the point of use.
type Identity interface {
	Resolve(ctx context.Context) (string, bool)
}

type mutation struct {
	version uint64
	add     bool
	tag     string
}

// Store is the in-memory preference set of the signed-in user.
// It is safe for concurrent use; backend calls run outside the lock.
type Store struct {
	gw        gateway.Gateway
	identity  Identity
	assembler *feed.Assembler
	logger    *zap.Logger

	mu               sync.Mutex
	state            State
	tags             []string
	confirmed        []string
	confirmedVersion uint64
	nextVersion      uint64
	pending          []mutation
	posts            []model.Post
	feedGen          uint64
}

// New creates a Store in the Loading state.
func New(gw gateway.Gateway, identity Identity, assembler *feed.Assembler, logger *zap.Logger) *Store {
	return &Store{
		gw:        gw,
		identity:  identity,
		assembler: assembler,
		logger:    logger,
		posts:     []model.Post{},
	}
}

// Load fetches the persisted preference set and computes the feed. A user
// without stored preferences gets an empty set.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	userID, ok := s.identity.Resolve(ctx)
	if !ok {
		return nil, apperror.SignedOut()
	}

	tags, found, err := s.gw.FetchPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("prefs: loading preferences: %w", err)
	}
	if !found || tags == nil {
		tags = []string{}
	}

	s.mu.Lock()
	s.confirmed = clone(tags)
	s.confirmedVersion = s.nextVersion
	s.pending = nil
	s.tags = clone(tags)
	s.state = Ready
	s.mu.Unlock()

	s.logger.Debug("preferences loaded", zap.String("user", userID), zap.Strings("tags", tags))

	if err := s.Refresh(ctx); err != nil {
		return clone(tags), err
	}
	return clone(tags), nil
}

// Add normalizes raw and appends it to the set. It reports false, without
// touching the backend, when the tag is empty or already present.
func (s *Store) Add(ctx context.Context, raw string) (bool, error) {
	tag := model.NormalizeTag(raw)
	if tag == "" {
		return false, nil
	}
	return s.mutate(ctx, mutation{add: true, tag: tag})
}

// Remove deletes tag (exact match) from the set. It reports false when the
// tag is not present.
func (s *Store) Remove(ctx context.Context, tag string) (bool, error) {
	return s.mutate(ctx, mutation{add: false, tag: tag})
}

func (s *Store) mutate(ctx context.Context, m mutation) (bool, error) {
	userID, ok := s.identity.Resolve(ctx)
	if !ok {
		return false, apperror.SignedOut()
	}

	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return false, ErrNotLoaded
	}
	present := model.ContainsTag(s.tags, m.tag)
	if (m.add && present) || (!m.add && !present) {
		s.mu.Unlock()
		return false, nil
	}
	s.nextVersion++
	m.version = s.nextVersion
	s.pending = append(s.pending, m)
	s.tags = apply(s.tags, m)
	snapshot := clone(s.tags)
	s.mu.Unlock()

	if err := s.persist(ctx, userID, m.version, snapshot); err != nil {
		return true, err
	}
	return true, s.Refresh(ctx)
}

// persist uploads the full set for mutation version and reconciles the
// in-memory state with the outcome.
func (s *Store) persist(ctx context.Context, userID string, version uint64, snapshot []string) error {
	err := s.gw.UpsertPreferences(ctx, userID, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.confirmedVersion {
		// A newer save already landed and carried this mutation with it.
		s.logger.Debug("discarding stale preference save",
			zap.Uint64("version", version),
			zap.Error(err),
		)
		return nil
	}

	if err != nil {
		s.pending = dropVersion(s.pending, version)
		s.tags = replay(s.confirmed, s.pending)
		s.logger.Warn("saving preferences failed, rolled back",
			zap.Uint64("version", version),
			zap.Strings("tags", s.tags),
			zap.Error(err),
		)
		return wrapSave(err)
	}

	s.confirmed = snapshot
	s.confirmedVersion = version
	s.pending = dropThrough(s.pending, version)
	s.tags = replay(s.confirmed, s.pending)
	return nil
}

func wrapSave(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("prefs: saving preferences: %w", err)
}

// Refresh recomputes the personalized feed from the current set. An empty
// set clears the feed without a query. Results of a recompute that was
// overtaken by a newer one are dropped.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	tags := clone(s.tags)
	s.feedGen++
	gen := s.feedGen
	s.mu.Unlock()

	posts, err := s.assembler.Personalized(ctx, tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.feedGen {
		return nil
	}
	if err != nil {
		return err
	}
	s.posts = posts
	return nil
}

// Tags returns a copy of the current (possibly unconfirmed) set.
func (s *Store) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.tags)
}

// Confirmed returns the last set the backend acknowledged and its version.
func (s *Store) Confirmed() ([]string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.confirmed), s.confirmedVersion
}

// Version returns the sequence number of the last confirmed save.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmedVersion
}

// Feed returns a copy of the current personalized feed.
func (s *Store) Feed() []model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Post{}, s.posts...)
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func apply(tags []string, m mutation) []string {
	if m.add {
		if model.ContainsTag(tags, m.tag) {
			return clone(tags)
		}
		return append(clone(tags), m.tag)
	}
	return model.RemoveTag(tags, m.tag)
}

func replay(base []string, pending []mutation) []string {
	tags := clone(base)
	for _, m := range pending {
		tags = apply(tags, m)
	}
	return tags
}

func dropVersion(pending []mutation, version uint64) []mutation {
	out := pending[:0:0]
	for _, m := range pending {
		if m.version != version {
			out = append(out, m)
		}
	}
	return out
}

func dropThrough(pending []mutation, version uint64) []mutation {
	out := pending[:0:0]
	for _, m := range pending {
		if m.version > version {
			out = append(out, m)
		}
	}
	return out
}

func clone(tags []string) []string {
	return append([]string{}, tags...)
}
