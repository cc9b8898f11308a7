package kv

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerStorage fails fast once a remote backend keeps erroring,
// instead of letting every cart operation wait on a dead connection.
type BreakerStorage struct {
	next    Storage
	breaker *gobreaker.CircuitBreaker[string]
}

func NewBreakerStorage(next Storage, name string) *BreakerStorage {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a missing key is an answer, not a failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrKeyNotFound) || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerStorage{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

func (b *BreakerStorage) Get(ctx context.Context, key string) (string, error) {
	return b.breaker.Execute(func() (string, error) {
		return b.next.Get(ctx, key)
	})
}

func (b *BreakerStorage) Set(ctx context.Context, key, value string) error {
	_, err := b.breaker.Execute(func() (string, error) {
		return "", b.next.Set(ctx, key, value)
	})
	return err
}

// State reports the breaker state, mostly for logs and tests.
func (b *BreakerStorage) State() gobreaker.State {
	return b.breaker.State()
}
