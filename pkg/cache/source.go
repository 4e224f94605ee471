package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mchmarny/microscore/pkg/data"
)

const (
	// DefaultTTL is how long a user's features stay cached.
	DefaultTTL = 5 * time.Minute

	keyPrefix = "microscore:features:"
)

// Source caches the feature mapping of another FeatureSource.
// Cache errors are logged and the wrapped source is used instead.
// Lookup not-found results are never cached.
type Source struct {
	next  data.FeatureSource
	store Store
	ttl   time.Duration
}

// NewSource wraps next with store. A non-positive ttl uses DefaultTTL.
func NewSource(next data.FeatureSource, store Store, ttl time.Duration) *Source {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Source{next: next, store: store, ttl: ttl}
}

// Key returns the cache key for a user.
func Key(userID string) string {
	return keyPrefix + userID
}

// Features returns the cached mapping for userID or loads it from the wrapped source.
func (s *Source) Features(ctx context.Context, userID string) (map[string]any, error) {
	key := Key(userID)

	b, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			slog.Warn("discarding unreadable cache entry", "key", key, "error", err)
			break
		}
		slog.Debug("feature cache hit", "user", userID)
		return m, nil
	case errors.Is(err, ErrMiss):
	default:
		slog.Warn("feature cache read failed", "key", key, "error", err)
	}

	m, err := s.next.Features(ctx, userID)
	if err != nil {
		return nil, err
	}

	b, err = json.Marshal(m)
	if err != nil {
		slog.Warn("failed to encode features for cache", "user", userID, "error", err)
		return m, nil
	}
	if err := s.store.Set(ctx, key, b, s.ttl); err != nil {
		slog.Warn("feature cache write failed", "key", key, "error", err)
	}

	return m, nil
}
