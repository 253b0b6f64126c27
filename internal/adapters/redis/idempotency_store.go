// Package redis provides Redis-based adapters for the job pipeline.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL bounds how long a (workspace, key) -> job mapping
// lives. Expiry is safe: the ledger's unique constraint remains the
// correctness guarantee and is always consulted on a miss.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStore is the fast-path cache mapping a workspace-scoped
// idempotency key to a job ID. It is a pure cache abstraction: it never
// falls back to the ledger itself.
type IdempotencyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewIdempotencyStore creates an IdempotencyStore with the default prefix and TTL.
func NewIdempotencyStore(client redis.UniversalClient) *IdempotencyStore {
	return &IdempotencyStore{
		client: client,
		prefix: "idempotency:",
		ttl:    DefaultIdempotencyTTL,
	}
}

// NewIdempotencyStoreWithTTL creates an IdempotencyStore with a custom TTL.
func NewIdempotencyStoreWithTTL(client redis.UniversalClient, ttl time.Duration) *IdempotencyStore {
	store := NewIdempotencyStore(client)
	if ttl > 0 {
		store.ttl = ttl
	}
	return store
}

func (s *IdempotencyStore) key(key, workspaceID string) string {
	return s.prefix + workspaceID + ":" + key
}

// Lookup returns the job ID recorded for the (key, workspace) pair. The
// second return value is false on a miss; a miss proves nothing about the
// ledger.
func (s *IdempotencyStore) Lookup(ctx context.Context, key, workspaceID string) (string, bool, error) {
	if key == "" || workspaceID == "" {
		return "", false, errors.New("idempotency key and workspace id are required")
	}

	jobID, err := s.client.Get(ctx, s.key(key, workspaceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return jobID, true, nil
}

// Record stores the mapping with the configured TTL. Callers treat failure
// as best-effort: a missed cache write costs a ledger read, never correctness.
func (s *IdempotencyStore) Record(ctx context.Context, key, workspaceID, jobID string) error {
	if key == "" || workspaceID == "" {
		return errors.New("idempotency key and workspace id are required")
	}
	if jobID == "" {
		return errors.New("job id is required")
	}

	if err := s.client.Set(ctx, s.key(key, workspaceID), jobID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a mapping. Used by tests and operational cleanup.
func (s *IdempotencyStore) Delete(ctx context.Context, key, workspaceID string) error {
	if key == "" || workspaceID == "" {
		return errors.New("idempotency key and workspace id are required")
	}

	if err := s.client.Del(ctx, s.key(key, workspaceID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the Redis connection.
func (s *IdempotencyStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
