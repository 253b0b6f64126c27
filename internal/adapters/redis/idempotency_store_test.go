package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/purplemerit/collab-jobs/internal/adapters/redis"
	"github.com/purplemerit/collab-jobs/internal/testutil"
)

func TestIdempotencyStoreRecordAndLookup(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	store := redisadapter.NewIdempotencyStore(client)

	workspaceID := uuid.NewString()
	jobID := uuid.NewString()

	_, found, err := store.Lookup(context.Background(), "submit-1", workspaceID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Record(context.Background(), "submit-1", workspaceID, jobID))

	got, found, err := store.Lookup(context.Background(), "submit-1", workspaceID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, jobID, got)

	// The same key in another workspace is a separate entry.
	_, found, err = store.Lookup(context.Background(), "submit-1", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyStoreTTL(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	store := redisadapter.NewIdempotencyStoreWithTTL(client, 50*time.Millisecond)

	workspaceID := uuid.NewString()
	require.NoError(t, store.Record(context.Background(), "short-lived", workspaceID, uuid.NewString()))

	_, found, err := store.Lookup(context.Background(), "short-lived", workspaceID)
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(100 * time.Millisecond)

	_, found, err = store.Lookup(context.Background(), "short-lived", workspaceID)
	require.NoError(t, err)
	assert.False(t, found, "entry should expire with its TTL")
}

func TestIdempotencyStoreDelete(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	store := redisadapter.NewIdempotencyStore(client)

	workspaceID := uuid.NewString()
	require.NoError(t, store.Record(context.Background(), "submit-2", workspaceID, uuid.NewString()))
	require.NoError(t, store.Delete(context.Background(), "submit-2", workspaceID))

	_, found, err := store.Lookup(context.Background(), "submit-2", workspaceID)
	require.NoError(t, err)
	assert.False(t, found)
}
