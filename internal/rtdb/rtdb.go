// Package rtdb is the realtime key-value store backing gallery state on
// Redis. Each path holds one whole JSON document and writes replace it
// in a single round trip.
package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "gallery:"

const connectTimeout = 5 * time.Second

// Store implements a path-addressed JSON store over Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to the Redis server at redisURL and verifies the
// connection with a ping.
func New(redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, prefix), nil
}

// NewWithClient creates a store from an existing Redis client. An empty
// prefix selects DefaultPrefix.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(path string) string {
	return s.prefix + path
}

// Get returns the value stored at path, or nil if the path has never
// been written.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, s.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	return json.RawMessage(data), nil
}

// Set replaces the value at path. The value must be valid JSON.
func (s *Store) Set(ctx context.Context, path string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("set %s: value is not valid JSON", path)
	}

	if err := s.client.Set(ctx, s.key(path), []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}

	return nil
}

// Delete removes the value at path. Deleting a missing path is a no-op.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, s.key(path)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}

	return nil
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
