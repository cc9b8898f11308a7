package kv

import (
	"context"
	"errors"
)

// Storage is the key-value collaborator the cart persists into.
// Set replaces any previous value stored under the key.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

var ErrKeyNotFound = errors.New("key not found")
