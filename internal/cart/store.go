// Package cart holds the shopping cart state and keeps a persisted copy of it
// in a key-value storage, so the cart survives restarts.
//
// A Store is created once with New and shared by whoever needs the cart.
// Every mutation writes the full snapshot under a single key before the
// in-memory state changes; a failed write leaves the cart as it was.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/fjod/go_cart/cart-store/internal/kv"
	"github.com/fjod/go_cart/cart-store/internal/logger"
	"golang.org/x/sync/singleflight"
)

// DefaultStorageKey is the key the mobile app used for its cart.
const DefaultStorageKey = "@GoMarketplace:storagedProducts"

const defaultReloadTimeout = 10 * time.Second

var (
	ErrNotInitialized  = errors.New("cart store is not initialized")
	ErrCorruptSnapshot = errors.New("persisted cart snapshot is corrupt")
	ErrNilListener     = errors.New("cart: listener is required")
)

// Listener receives the cart snapshot after every successful change.
// It runs while the store holds its operation lock and must not call
// AddToCart, Increment, Decrement or Reload.
type Listener func(items []domain.LineItem)

type Option func(*Store)

func WithStorageKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithReloadTimeout bounds the storage read shared by concurrent Reload calls.
func WithReloadTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.reloadTimeout = d
		}
	}
}

type Store struct {
	storage       kv.Storage
	key           string
	reloadTimeout time.Duration

	opMu sync.Mutex // serializes read-compute-persist-update
	sfg  singleflight.Group

	mu        sync.RWMutex
	items     []domain.LineItem
	ready     bool
	listeners map[int]Listener
	nextID    int
}

// New creates the store and restores the persisted snapshot, if any.
func New(ctx context.Context, storage kv.Storage, opts ...Option) (*Store, error) {
	if storage == nil {
		return nil, errors.New("cart: storage is required")
	}

	s := &Store{
		storage:       storage,
		key:           DefaultStorageKey,
		reloadTimeout: defaultReloadTimeout,
		listeners:     make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}

	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	s.items = items
	s.ready = true

	logger.FromContext(ctx).Info().
		Str("key", s.key).
		Int("items", len(items)).
		Msg("cart restored")
	return s, nil
}

// Products returns a copy of the current snapshot in insertion order.
func (s *Store) Products() ([]domain.LineItem, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return nil, ErrNotInitialized
	}
	return cloneItems(s.items), nil
}

func (s *Store) Totals() (domain.Totals, error) {
	items, err := s.Products()
	if err != nil {
		return domain.Totals{}, err
	}
	return domain.CalculateTotals(items), nil
}

// AddToCart appends the product with quantity 1, or bumps the quantity of the
// entry with the same ID. A repeat add keeps the title, image and price of the
// first one. The returned slice is the cart right after this change.
func (s *Store) AddToCart(ctx context.Context, product domain.Product) ([]domain.LineItem, error) {
	return s.mutate(ctx, "add", product.ID, func(items []domain.LineItem) []domain.LineItem {
		for i := range items {
			if items[i].ID == product.ID {
				items[i].Quantity++
				return items
			}
		}
		return append(items, domain.LineItem{Product: product, Quantity: 1})
	})
}

// Increment adds one to the quantity of id. An unknown id leaves the cart
// unchanged, but the snapshot is still written.
func (s *Store) Increment(ctx context.Context, id string) ([]domain.LineItem, error) {
	return s.mutate(ctx, "increment", id, func(items []domain.LineItem) []domain.LineItem {
		for i := range items {
			if items[i].ID == id {
				items[i].Quantity++
			}
		}
		return items
	})
}

// Decrement removes one from the quantity of id and drops every item whose
// quantity is no longer positive.
func (s *Store) Decrement(ctx context.Context, id string) ([]domain.LineItem, error) {
	return s.mutate(ctx, "decrement", id, func(items []domain.LineItem) []domain.LineItem {
		for i := range items {
			if items[i].ID == id {
				items[i].Quantity--
			}
		}

		kept := make([]domain.LineItem, 0, len(items))
		for _, item := range items {
			if item.Quantity > 0 {
				kept = append(kept, item)
			}
		}
		return kept
	})
}

// Reload replaces the in-memory snapshot with the persisted one and returns it.
// Concurrent calls share a single storage read, which runs detached from any
// one caller's cancellation; each caller still returns early when its own ctx ends.
func (s *Store) Reload(ctx context.Context) ([]domain.LineItem, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}

	ch := s.sfg.DoChan(s.key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reloadTimeout)
		defer cancel()

		s.opMu.Lock()
		defer s.opMu.Unlock()

		if !s.isReady() {
			return nil, ErrNotInitialized
		}

		items, err := s.load(loadCtx)
		if err != nil {
			return nil, err
		}

		s.apply(items)
		logger.FromContext(ctx).Info().Str("key", s.key).Int("items", len(items)).Msg("cart reloaded")
		return items, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneItems(res.Val.([]domain.LineItem)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (func(), error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	if l == nil {
		return nil, ErrNilListener
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, ErrNotInitialized
	}

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}, nil
}

// Close ends the store lifetime. It waits for a running operation to finish;
// afterwards every method returns ErrNotInitialized. The storage is not closed.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = false
	s.items = nil
	s.listeners = nil
	return nil
}

func (s *Store) mutate(ctx context.Context, op, id string, fn func([]domain.LineItem) []domain.LineItem) ([]domain.LineItem, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	current, err := s.Products()
	if err != nil {
		return nil, err
	}

	next := fn(current)
	if err := s.persist(ctx, next); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("op", op).Str("id", id).Msg("cart write failed")
		return nil, err
	}

	s.apply(next)

	logger.FromContext(ctx).Debug().
		Str("op", op).
		Str("id", id).
		Int("items", len(next)).
		Msg("cart updated")
	return cloneItems(next), nil
}

func (s *Store) persist(ctx context.Context, items []domain.LineItem) error {
	if items == nil {
		items = []domain.LineItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := s.storage.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("failed to persist cart: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) ([]domain.LineItem, error) {
	raw, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return []domain.LineItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if raw == "" {
		return []domain.LineItem{}, nil
	}

	var items []domain.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if items == nil {
		items = []domain.LineItem{}
	}
	return items, nil
}

// apply swaps in the new snapshot and notifies listeners. Callers hold opMu.
func (s *Store) apply(items []domain.LineItem) {
	s.mu.Lock()
	s.items = items
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(cloneItems(items))
	}
}

func (s *Store) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func cloneItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(items))
	copy(out, items)
	return out
}
