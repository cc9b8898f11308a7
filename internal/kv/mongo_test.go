package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestMongo(t *testing.T) (*MongoStorage, func()) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	storage := NewMongoStorage(db)

	cleanup := func() {
		_ = storage.Close()
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return storage, cleanup
}

func TestMongoGet_NotFound(t *testing.T) {
	storage, cleanup := setupTestMongo(t)
	defer cleanup()

	_, err := storage.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMongoSet_UpsertAndReplace(t *testing.T) {
	storage, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, storage.Set(ctx, "cart", `[{"id":"p1","quantity":1}]`))
	require.NoError(t, storage.Set(ctx, "cart", `[{"id":"p1","quantity":2}]`))

	value, err := storage.Get(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"p1","quantity":2}]`, value)

	count, err := storage.collection.CountDocuments(ctx, map[string]string{"_id": "cart"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMongo_ContextCancellation(t *testing.T) {
	storage, cleanup := setupTestMongo(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond) // Ensure context is cancelled

	_, err := storage.Get(ctx, "cart")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestConnectMongoDB_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	db, err := ConnectMongoDB(ctx, "mongodb://127.0.0.1:1/?connect=direct", "testdb")
	require.ErrorContains(t, err, "failed to ping MongoDB")
	assert.Nil(t, db)
}
