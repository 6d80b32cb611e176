// Package redis provides a Redis implementation of the gorole.Storage interface.
// Role writes go through a Lua script so the stale check and the write are one
// atomic step on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// Storage implements gorole.Storage using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
	upsert *redis.Script
}

var _ gorole.Storage = (*Storage)(nil)

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gorole:")
	KeyPrefix string

	// RoleTTL expires assignment keys (0 = no expiration). Only set this when
	// Redis is a cache in front of another store.
	RoleTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "gorole:",
	}
}

// upsertScript writes the assignment unless stale rejection is on and the
// stored event_at (unix millis) is newer than the incoming one. It replies
// {applied, previous data}; previous is nil when the key did not exist.
const upsertScript = `
	local key = KEYS[1]
	local data = ARGV[1]
	local rejectStale = ARGV[2] == '1'
	local eventAt = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local previous = redis.call('HGET', key, 'data')

	if rejectStale and eventAt > 0 then
		local stored = tonumber(redis.call('HGET', key, 'event_at') or '0')
		if stored > eventAt then
			return {0, previous}
		end
	end

	redis.call('HSET', key, 'data', data, 'event_at', eventAt)
	if ttl > 0 then
		redis.call('PEXPIRE', key, ttl)
	end
	return {1, previous}
`

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "gorole:"
	}

	return &Storage{
		client: client,
		config: config,
		upsert: redis.NewScript(upsertScript),
	}, nil
}

// GetRole implements gorole.Storage
func (s *Storage) GetRole(ctx context.Context, userID string) (*gorole.RoleAssignment, error) {
	data, err := s.client.HGet(ctx, s.roleKey(userID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gorole.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return decodeAssignment(data)
}

func decodeAssignment(data []byte) (*gorole.RoleAssignment, error) {
	var ra gorole.RoleAssignment
	if err := json.Unmarshal(data, &ra); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role assignment: %w", err)
	}
	return &ra, nil
}

// UpsertRole implements gorole.Storage
func (s *Storage) UpsertRole(ctx context.Context, req *gorole.UpsertRequest) (*gorole.UpsertResult, error) {
	if req == nil || req.UserID == "" {
		return nil, gorole.ErrInvalidAssignment
	}
	ra := req.Assignment(time.Now().UTC())

	data, err := json.Marshal(ra)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal role assignment: %w", err)
	}

	var eventAt int64
	if !ra.EventAt.IsZero() {
		eventAt = ra.EventAt.UnixMilli()
	}
	rejectStale := "0"
	if req.RejectStale {
		rejectStale = "1"
	}

	reply, err := s.upsert.Run(ctx, s.client, []string{s.roleKey(req.UserID)},
		data, rejectStale, eventAt, s.config.RoleTTL.Milliseconds()).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to upsert role: %w", err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("failed to upsert role: unexpected script reply %v", reply)
	}

	applied, _ := reply[0].(int64)
	res := &gorole.UpsertResult{Applied: applied == 1}
	if prev, ok := reply[1].(string); ok {
		if res.Previous, err = decodeAssignment([]byte(prev)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// DeleteRole removes a stored assignment.
func (s *Storage) DeleteRole(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.roleKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

func (s *Storage) roleKey(userID string) string {
	return s.config.KeyPrefix + "role:" + userID
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
