package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Leader elects a single active sweeper among assigner instances via a
// Redis SETNX lease. Only the leader runs the expiry sweep, so a pending
// conversation is marked expired exactly once no matter how many assigners
// are running.
type Leader struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
	logger     *slog.Logger
}

// NewLeader creates a Leader contending on key with the given lease TTL.
func NewLeader(client *redis.Client, key, instanceID string, ttl time.Duration, logger *slog.Logger) *Leader {
	return &Leader{
		client:     client,
		key:        key,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// AcquireOrRenew attempts to take or extend the lease. Returns true when
// this instance is the leader for the current lease period.
func (l *Leader) AcquireOrRenew(ctx context.Context) bool {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		l.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		l.logger.Info("acquired sweep leadership", slog.String("instance_id", l.instanceID))
		return true
	}

	// Already set — renew only if we own it (atomic Lua script avoids races).
	result, err := renewScript.Run(
		ctx, l.client,
		[]string{l.key},
		l.instanceID,
		l.ttl.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// Resign releases the lease if this instance holds it.
func (l *Leader) Resign(ctx context.Context) {
	release := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := release.Run(ctx, l.client, []string{l.key}, l.instanceID).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		l.logger.Error("leader resign", slog.String("error", err.Error()))
	}
}
