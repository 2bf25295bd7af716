package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig holds configuration for the gateway circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests calls have been seen.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used by the CLI.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "gateway",
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

type breakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps g in a circuit breaker. While the circuit is open every
// call fails fast with apperror.ErrUnavailable instead of reaching the
// backend. Cancelled calls do not count as failures.
func WithBreaker(g Gateway, cfg BreakerConfig, logger *zap.Logger) Gateway {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &breakerGateway{next: g, cb: cb}
}

func (b *breakerGateway) run(op string, fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperror.Unavailable(op, err)
	}
	return v, err
}

func (b *breakerGateway) FetchPreferences(ctx context.Context, userID string) ([]string, bool, error) {
	type result struct {
		tags  []string
		found bool
	}
	v, err := b.run("fetch preferences", func() (any, error) {
		tags, found, err := b.next.FetchPreferences(ctx, userID)
		return result{tags: tags, found: found}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(result)
	return r.tags, r.found, nil
}

func (b *breakerGateway) UpsertPreferences(ctx context.Context, userID string, tags []string) error {
	_, err := b.run("upsert preferences", func() (any, error) {
		return nil, b.next.UpsertPreferences(ctx, userID, tags)
	})
	return err
}

func (b *breakerGateway) QueryPosts(ctx context.Context, q PostQuery) ([]model.Post, error) {
	v, err := b.run("query posts", func() (any, error) {
		return b.next.QueryPosts(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Post), nil
}

func (b *breakerGateway) InsertPost(ctx context.Context, d model.Draft) (*model.Post, error) {
	v, err := b.run("insert post", func() (any, error) {
		return b.next.InsertPost(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Post), nil
}

func (b *breakerGateway) UpsertProfile(ctx context.Context, p model.Profile) error {
	_, err := b.run("upsert profile", func() (any, error) {
		return nil, b.next.UpsertProfile(ctx, p)
	})
	return err
}

func (b *breakerGateway) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	v, err := b.run("get profile", func() (any, error) {
		p, err := b.next.GetProfile(ctx, userID)
		if errors.Is(err, apperror.ErrNotFound) {
			// A missing profile is an answer, not a backend failure.
			return nil, nil
		}
		return p, err
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(*model.Profile)
	if p == nil {
		return nil, apperror.NotFound("profile", userID)
	}
	return p, nil
}

func (b *breakerGateway) DeleteUserData(ctx context.Context, userID string) error {
	_, err := b.run("delete user data", func() (any, error) {
		return nil, b.next.DeleteUserData(ctx, userID)
	})
	return err
}
