package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AudienceSource is anything that can list a user's friends.
type AudienceSource interface {
	FriendsOf(ctx context.Context, userID string) ([]string, error)
}

// audienceStore holds cached friend lists. A miss is (nil, false, nil).
type audienceStore interface {
	get(ctx context.Context, userID string) ([]string, bool, error)
	set(ctx context.Context, userID string, friends []string) error
	del(ctx context.Context, userID string) error
}

// CachedAudience answers FriendsOf from a TTL cache in front of source.
type CachedAudience struct {
	source AudienceSource
	store  audienceStore
	logger *zap.Logger
}

// NewMemoryAudience caches in process with an expiring LRU.
func NewMemoryAudience(source AudienceSource, size int, ttl time.Duration, logger *zap.Logger) *CachedAudience {
	return &CachedAudience{
		source: source,
		store:  &memoryStore{lru: expirable.NewLRU[string, []string](size, nil, ttl)},
		logger: named(logger),
	}
}

// NewRedisAudience caches in Redis so restarts and sibling tools share entries.
func NewRedisAudience(source AudienceSource, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedAudience {
	return &CachedAudience{
		source: source,
		store:  &redisStore{client: client, ttl: ttl},
		logger: named(logger),
	}
}

func named(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("component", "audience_cache"))
}

func (c *CachedAudience) FriendsOf(ctx context.Context, userID string) ([]string, error) {
	friends, ok, err := c.store.get(ctx, userID)
	if err != nil {
		// Treat as a miss.
		c.logger.Warn("audience cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	if ok {
		return friends, nil
	}

	friends, err = c.source.FriendsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := c.store.set(ctx, userID, friends); err != nil {
		c.logger.Warn("audience cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return friends, nil
}

// Invalidate drops the cached audience of each user, for example both sides of
// a friendship that was just accepted or removed.
func (c *CachedAudience) Invalidate(ctx context.Context, userIDs ...string) error {
	var errs []error
	for _, id := range userIDs {
		if err := c.store.del(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type memoryStore struct {
	lru *expirable.LRU[string, []string]
}

func (s *memoryStore) get(_ context.Context, userID string) ([]string, bool, error) {
	friends, ok := s.lru.Get(userID)
	return friends, ok, nil
}

func (s *memoryStore) set(_ context.Context, userID string, friends []string) error {
	s.lru.Add(userID, friends)
	return nil
}

func (s *memoryStore) del(_ context.Context, userID string) error {
	s.lru.Remove(userID)
	return nil
}

const audienceKeyPrefix = "hub:audience:"

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func audienceKey(userID string) string {
	return audienceKeyPrefix + userID
}

func (s *redisStore) get(ctx context.Context, userID string) ([]string, bool, error) {
	raw, err := s.client.Get(ctx, audienceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get audience %s: %w", userID, err)
	}
	var friends []string
	if err := json.Unmarshal(raw, &friends); err != nil {
		return nil, false, fmt.Errorf("decode audience %s: %w", userID, err)
	}
	return friends, true, nil
}

func (s *redisStore) set(ctx context.Context, userID string, friends []string) error {
	if friends == nil {
		friends = []string{}
	}
	raw, err := json.Marshal(friends)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, audienceKey(userID), raw, s.ttl).Err()
}

func (s *redisStore) del(ctx context.Context, userID string) error {
	return s.client.Del(ctx, audienceKey(userID)).Err()
}
