package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"grit-server/pkg/config"
)

const stateKeyPrefix = "grit:session:"

// RedisStateStore persists full session snapshots to Redis so a session
// survives a process restart. Snapshots carry no TTL of their own; the
// session lifecycle (End or expiry) deletes them explicitly.
type RedisStateStore struct {
	client    redis.UniversalClient
	logger    *logrus.Logger
	keyPrefix string
}

// NewRedisStateStore connects to Redis and verifies the connection before
// returning the store.
func NewRedisStateStore(cfg config.RedisConfig, logger *logrus.Logger) (*RedisStateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStateStore{
		client:    client,
		logger:    logger,
		keyPrefix: stateKeyPrefix,
	}

	logger.WithFields(logrus.Fields{
		"address":  cfg.Address,
		"database": cfg.Database,
	}).Info("Redis state store initialized")

	return store, nil
}

// GetClient returns the underlying Redis client so the hot cache can share
// the same connection pool.
func (r *RedisStateStore) GetClient() redis.UniversalClient {
	return r.client
}

// Save serializes a session snapshot and writes it to Redis.
func (r *RedisStateStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	key := r.sessionKey(snap.Descriptor.SessionID)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store session snapshot: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": snap.Descriptor.SessionID,
		"status":     snap.Status,
	}).Debug("Session snapshot stored")

	return nil
}

// Load retrieves a session snapshot. Returns (nil, nil) when no snapshot
// exists for the session.
func (r *RedisStateStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
	}

	return &snap, nil
}

// Delete removes a session snapshot. Deleting a missing key is not an error.
func (r *RedisStateStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session snapshot: %w", err)
	}

	r.logger.WithField("session_id", sessionID).Debug("Session snapshot deleted")
	return nil
}

// ListSessionIDs scans for all persisted session snapshots, used at startup
// to restore sessions that were live when the previous process exited.
func (r *RedisStateStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(r.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session keys: %w", err)
	}
	return ids, nil
}

// Close releases the Redis connection pool.
func (r *RedisStateStore) Close() error {
	return r.client.Close()
}

func (r *RedisStateStore) sessionKey(sessionID string) string {
	return r.keyPrefix + sessionID
}
