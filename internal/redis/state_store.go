package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lawrns/camp-sub015/internal/domain"
)

const (
	stateTTL    = 24 * time.Hour
	presenceTTL = 15 * time.Minute
)

func stateKey(workItemID string) string      { return "conv:state:" + workItemID }
func versionKey(workItemID string) string    { return "conv:version:" + workItemID }
func assignmentKey(workItemID string) string { return "conv:assignment:" + workItemID }
func presenceKey(candidateID string) string  { return "agent:presence:" + candidateID }

// StateStore manages realtime conversation and presence state in Redis.
// Versions live here too, so the optimistic commit check holds across
// assigner instances, not just within one process.
type StateStore interface {
	SetWorkItemStatus(ctx context.Context, workItemID string, status domain.WorkItemStatus) error
	GetWorkItemStatus(ctx context.Context, workItemID string) (domain.WorkItemStatus, error)
	SetAssignment(ctx context.Context, a *domain.Assignment) error
	GetAssignment(ctx context.Context, workItemID string) (*domain.Assignment, error)
	BumpVersion(ctx context.Context, workItemID string) (int64, error)
	GetVersion(ctx context.Context, workItemID string) (int64, error)
	SetPresence(ctx context.Context, candidateID string, presence domain.Presence) error
	GetPresence(ctx context.Context, candidateID string) (domain.Presence, error)
}

type stateStore struct {
	client *redis.Client
}

// NewStateStore creates a Redis-backed StateStore.
func NewStateStore(client *redis.Client) StateStore {
	return &stateStore{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *stateStore) SetWorkItemStatus(ctx context.Context, workItemID string, status domain.WorkItemStatus) error {
	err := s.client.Set(ctx, stateKey(workItemID), string(status), stateTTL).Err()
	if err != nil {
		return fmt.Errorf("redis set status for %s: %w", workItemID, err)
	}
	return nil
}

func (s *stateStore) GetWorkItemStatus(ctx context.Context, workItemID string) (domain.WorkItemStatus, error) {
	val, err := s.client.Get(ctx, stateKey(workItemID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", &domain.WorkItemNotFoundError{WorkItemID: workItemID}
		}
		return "", fmt.Errorf("redis get status for %s: %w", workItemID, err)
	}
	return domain.WorkItemStatus(val), nil
}

func (s *stateStore) SetAssignment(ctx context.Context, a *domain.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assignment: %w", err)
	}
	err = s.client.Set(ctx, assignmentKey(a.WorkItemID), data, stateTTL).Err()
	if err != nil {
		return fmt.Errorf("redis set assignment for %s: %w", a.WorkItemID, err)
	}
	return nil
}

func (s *stateStore) GetAssignment(ctx context.Context, workItemID string) (*domain.Assignment, error) {
	data, err := s.client.Get(ctx, assignmentKey(workItemID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.WorkItemNotFoundError{WorkItemID: workItemID}
		}
		return nil, fmt.Errorf("redis get assignment for %s: %w", workItemID, err)
	}
	var a domain.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal assignment: %w", err)
	}
	return &a, nil
}

// BumpVersion atomically increments and returns the conversation's version.
// INCR keeps the returned version unique across assigner instances.
func (s *stateStore) BumpVersion(ctx context.Context, workItemID string) (int64, error) {
	v, err := s.client.Incr(ctx, versionKey(workItemID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis bump version for %s: %w", workItemID, err)
	}
	// Refresh expiry so versions for live conversations do not decay.
	_ = s.client.Expire(ctx, versionKey(workItemID), stateTTL).Err()
	return v, nil
}

func (s *stateStore) GetVersion(ctx context.Context, workItemID string) (int64, error) {
	v, err := s.client.Get(ctx, versionKey(workItemID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil // never written means version zero
		}
		return 0, fmt.Errorf("redis get version for %s: %w", workItemID, err)
	}
	return v, nil
}

func (s *stateStore) SetPresence(ctx context.Context, candidateID string, presence domain.Presence) error {
	// Presence decays to offline if the directory stops refreshing it.
	err := s.client.Set(ctx, presenceKey(candidateID), string(presence), presenceTTL).Err()
	if err != nil {
		return fmt.Errorf("redis set presence for %s: %w", candidateID, err)
	}
	return nil
}

func (s *stateStore) GetPresence(ctx context.Context, candidateID string) (domain.Presence, error) {
	val, err := s.client.Get(ctx, presenceKey(candidateID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PresenceOffline, nil
		}
		return "", fmt.Errorf("redis get presence for %s: %w", candidateID, err)
	}
	return domain.Presence(val), nil
}
