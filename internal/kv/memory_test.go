package kv

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_GetMissing(t *testing.T) {
	s := NewMemoryStorage()

	value, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Empty(t, value)
}

func TestMemoryStorage_SetReplaces(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "first"))
	require.NoError(t, s.Set(ctx, "k", "second"))

	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	s := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Set(ctx, "k", "v"), context.Canceled)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStorage_Concurrent(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, "k", "v")
			_, _ = s.Get(ctx, "k")
		}()
	}
	wg.Wait()

	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}
