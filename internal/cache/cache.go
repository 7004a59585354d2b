// Package cache mirrors derived session state in Redis for the read-heavy
// public pages. Redis is never authoritative: every entry is invalidated on
// each registration write for the session, and a short TTL backstops missed
// invalidations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pickup-scheduler/internal/config"
	"github.com/pickup-scheduler/internal/domain"
)

const capacityTTL = 5 * time.Minute

// Cache provides Redis-backed caching of capacity status and waitlist
// ordering
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Redis cache from configuration
func New(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{client: client, logger: logger}, nil
}

// NewWithClient creates a cache around an existing client (used in tests)
func NewWithClient(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) capacityKey(sessionID string) string {
	return fmt.Sprintf("session:%s:capacity", sessionID)
}

func (c *Cache) waitlistKey(sessionID string) string {
	return fmt.Sprintf("session:%s:waitlist", sessionID)
}

// GetCapacity returns the cached capacity status for a session, if present
func (c *Cache) GetCapacity(ctx context.Context, sessionID string) (*domain.CapacityStatus, bool) {
	data, err := c.client.Get(ctx, c.capacityKey(sessionID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("capacity cache read failed", "session_id", sessionID, "error", err)
		}
		return nil, false
	}

	var status domain.CapacityStatus
	if err := json.Unmarshal(data, &status); err != nil {
		c.logger.Warn("capacity cache entry corrupt", "session_id", sessionID, "error", err)
		return nil, false
	}
	return &status, true
}

// SetCapacity caches the capacity status for a session
func (c *Cache) SetCapacity(ctx context.Context, sessionID string, status *domain.CapacityStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		c.logger.Warn("marshaling capacity status failed", "session_id", sessionID, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.capacityKey(sessionID), data, capacityTTL).Err(); err != nil {
		c.logger.Warn("capacity cache write failed", "session_id", sessionID, "error", err)
	}
}

// SetWaitlist mirrors the ordered waitlist as a sorted set keyed by
// priority score
func (c *Cache) SetWaitlist(ctx context.Context, sessionID string, regs []domain.Registration) {
	key := c.waitlistKey(sessionID)

	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	for _, reg := range regs {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  reg.PriorityScore,
			Member: reg.ID,
		})
	}
	pipe.Expire(ctx, key, capacityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("waitlist cache write failed", "session_id", sessionID, "error", err)
	}
}

// WaitlistEntry is one ranked entry from the waitlist mirror
type WaitlistEntry struct {
	Rank           int     `json:"rank"`
	RegistrationID string  `json:"registration_id"`
	Score          float64 `json:"score"`
}

// GetWaitlist returns the mirrored waitlist ordering, highest priority
// first, if present
func (c *Cache) GetWaitlist(ctx context.Context, sessionID string) ([]WaitlistEntry, bool) {
	results, err := c.client.ZRevRangeWithScores(ctx, c.waitlistKey(sessionID), 0, -1).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("waitlist cache read failed", "session_id", sessionID, "error", err)
		}
		return nil, false
	}
	if len(results) == 0 {
		return nil, false
	}

	entries := make([]WaitlistEntry, len(results))
	for i, result := range results {
		entries[i] = WaitlistEntry{
			Rank:           i + 1,
			RegistrationID: result.Member.(string),
			Score:          result.Score,
		}
	}
	return entries, true
}

// Invalidate drops all cached state for a session. Called after every
// registration write so derived reads never go stale.
func (c *Cache) Invalidate(ctx context.Context, sessionID string) {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.capacityKey(sessionID))
	pipe.Del(ctx, c.waitlistKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache invalidation failed", "session_id", sessionID, "error", err)
	}
}
