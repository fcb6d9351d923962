package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"grit-server/pkg/telemetry"
)

const cacheKeyPrefix = "grit:scores:"

// RedisScoreCache holds the most recent scores per session under a short
// TTL. A miss here is normal; readers fall back to the session actor.
type RedisScoreCache struct {
	client    redis.UniversalClient
	logger    *logrus.Logger
	keyPrefix string
	ttl       time.Duration
}

// NewRedisScoreCache wraps an existing Redis client as the hot score cache.
// The client is shared with the state store; only the key space and TTL
// differ.
func NewRedisScoreCache(client redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *RedisScoreCache {
	return &RedisScoreCache{
		client:    client,
		logger:    logger,
		keyPrefix: cacheKeyPrefix,
		ttl:       ttl,
	}
}

// PutLatest replaces the cached score list for a session and refreshes
// its TTL.
func (c *RedisScoreCache) PutLatest(ctx context.Context, sessionID string, scores []telemetry.ScorePacket) error {
	data, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("failed to marshal cached scores: %w", err)
	}

	if err := c.client.Set(ctx, c.scoreKey(sessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache scores: %w", err)
	}

	return nil
}

// GetLatest returns the cached scores for a session. The second return
// reports whether the cache held an entry.
func (c *RedisScoreCache) GetLatest(ctx context.Context, sessionID string) ([]telemetry.ScorePacket, bool, error) {
	data, err := c.client.Get(ctx, c.scoreKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached scores: %w", err)
	}

	var scores []telemetry.ScorePacket
	if err := json.Unmarshal(data, &scores); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.logger.WithError(err).WithField("session_id", sessionID).Warning("Discarding unreadable cache entry")
		c.client.Del(ctx, c.scoreKey(sessionID))
		return nil, false, nil
	}

	return scores, true, nil
}

// Invalidate removes the cached scores for a session.
func (c *RedisScoreCache) Invalidate(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.scoreKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate score cache: %w", err)
	}
	return nil
}

func (c *RedisScoreCache) scoreKey(sessionID string) string {
	return c.keyPrefix + sessionID
}
