package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"xroute/pkg/types"
)

// RedisStore keeps each route under its own key with a sorted-set index
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL sets the expiration for stored routes
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for stored routes
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects a store to a Redis server
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient creates a store on an existing client
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "xroute:route:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Save writes the route and indexes it by expiry
func (s *RedisStore) Save(ctx context.Context, route *types.Route) error {
	if route == nil || route.ID == "" {
		return fmt.Errorf("route id is required")
	}
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}

	// no ttl keeps the index entry until 2100-01-01
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(route.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: route.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load reads one route
func (s *RedisStore) Load(ctx context.Context, id string) (*types.Route, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("route '%s': %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var route types.Route
	if err := json.Unmarshal(val, &route); err != nil {
		return nil, fmt.Errorf("failed to unmarshal route: %w", err)
	}
	return &route, nil
}

// List prunes expired index entries and returns the remaining routes
func (s *RedisStore) List(ctx context.Context) ([]*types.Route, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired routes: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	routes := make([]*types.Route, 0, len(ids))
	for _, id := range ids {
		route, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	sortRoutes(routes)
	return routes, nil
}

// Delete removes the route and its index entry
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check route: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("route '%s': %w", id, ErrNotFound)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
