// Package cache memoises assignment results in Redis, keyed by the exact
// agent and target coordinates.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/resilience"
)

const keyPrefix = "assign:"

// Backend is the key-value store behind the cache. *redis.Client from
// pkg/redis satisfies it.
type Backend interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Circuit string  `json:"circuit"`
}

// AssignmentCache stores solved matchings. Backend calls go through a
// circuit breaker; while it is open every lookup is a miss and writes are
// skipped.
type AssignmentCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *AssignmentCache {
	c := &AssignmentCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "assignment-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("assignment-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(s resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues("assignment-cache").Set(float64(s))
			}
		},
	})
	return c
}

func (c *AssignmentCache) get(ctx context.Context, key string) (*assignment.Matching, bool) {
	var m assignment.Matching
	var found bool
	err := c.breaker.Execute(func() error {
		var err error
		found, err = c.backend.GetJSON(ctx, key, &m)
		return err
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.logger.Debug("cache bypassed", "key", key)
	case err != nil:
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if err != nil || !found || len(m.AgentTarget) == 0 {
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "key", key)
	return &m, true
}

// set stores m under key. Failures are logged, never returned.
func (c *AssignmentCache) set(ctx context.Context, key string, m *assignment.Matching) {
	err := c.breaker.Execute(func() error {
		return c.backend.SetJSON(ctx, key, m, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached matching or runs compute, storing its
// result. Concurrent calls for the same instance share one computation.
// The returned matching may be shared and must not be modified.
func (c *AssignmentCache) GetOrCompute(
	ctx context.Context,
	agents, targets []assignment.Point,
	compute func() (*assignment.Matching, error),
) (*assignment.Matching, bool, error) {
	key := Key(agents, targets)
	if m, ok := c.get(ctx, key); ok {
		return m, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		m, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, m)
		return m, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*assignment.Matching), false, nil
}

// Invalidate deletes every cached matching.
func (c *AssignmentCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns the hit and miss counters.
func (c *AssignmentCache) Stats() Stats {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Circuit: c.breaker.GetState().String(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *AssignmentCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *AssignmentCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Key hashes the instance into a cache key. The order of points matters:
// identifiers in the result follow agent order.
func Key(agents, targets []assignment.Point) string {
	buf := make([]byte, 0, 8+16*(len(agents)+len(targets)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(agents)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(targets)))
	for _, pts := range [][]assignment.Point{agents, targets} {
		for _, p := range pts {
			// +0 folds negative zero into zero.
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.X+0))
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Y+0))
		}
	}
	hash := sha256.Sum256(buf)
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
