package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Presence Management

func presenceKey(sessionID int64) string {
	return fmt.Sprintf("presence:session:%d", sessionID)
}

// AddPresence marks a user as connected to a session.
func (r *RedisClient) AddPresence(sessionID, userID int64) error {
	key := presenceKey(sessionID)
	if err := r.client.SAdd(r.ctx, key, userID).Err(); err != nil {
		return err
	}
	return r.client.Expire(r.ctx, key, 24*time.Hour).Err()
}

// RemovePresence removes a user from a session's presence set.
func (r *RedisClient) RemovePresence(sessionID, userID int64) error {
	return r.client.SRem(r.ctx, presenceKey(sessionID), userID).Err()
}

// ClearPresence drops a session's presence set entirely.
func (r *RedisClient) ClearPresence(sessionID int64) error {
	return r.client.Del(r.ctx, presenceKey(sessionID)).Err()
}

// GetPresence returns the user ids currently connected to a session.
func (r *RedisClient) GetPresence(sessionID int64) ([]int64, error) {
	members, err := r.client.SMembers(r.ctx, presenceKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	userIDs := make([]int64, 0, len(members))
	for _, member := range members {
		var id int64
		if _, err := fmt.Sscanf(member, "%d", &id); err != nil {
			continue
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, nil
}

// Pub/Sub

func sessionChannel(sessionID int64) string {
	return fmt.Sprintf("session:%d:events", sessionID)
}

// PublishSessionEvent fans an already-encoded frame out to every server
// instance holding connections for the session.
func (r *RedisClient) PublishSessionEvent(sessionID int64, frame []byte) error {
	return r.client.Publish(r.ctx, sessionChannel(sessionID), frame).Err()
}

// SubscribeToSession subscribes to a session's event channel.
func (r *RedisClient) SubscribeToSession(sessionID int64) *redis.PubSub {
	return r.client.Subscribe(r.ctx, sessionChannel(sessionID))
}
