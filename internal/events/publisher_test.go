package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/cart"
	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/fjod/go_cart/cart-store/internal/kv"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"gotest.tools/v3/assert"
)

type mockWriter struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	ctxErrs  []error
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("writer closed")
	}
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return nil
}

func (m *mockWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockWriter) written() []kafkaGo.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafkaGo.Message(nil), m.messages...)
}

func decode(t *testing.T, msg kafkaGo.Message) CartUpdated {
	var event CartUpdated
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	return event
}

func TestPublish_MessageLayout(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher("cart-key", w)

	items := []domain.LineItem{
		{Product: domain.Product{ID: "p1", Title: "Shirt", Price: 10}, Quantity: 2},
	}
	require.NoError(t, p.Publish(context.Background(), items))

	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "cart-key", string(msgs[0].Key))
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "event_type", msgs[0].Headers[0].Key)
	assert.Equal(t, EventTypeCartUpdated, string(msgs[0].Headers[0].Value))

	event := decode(t, msgs[0])
	assert.Equal(t, "cart-key", event.Key)
	assert.Equal(t, 2, event.Totals.Items)
	assert.Equal(t, 20.0, event.Totals.Total)
	assert.DeepEqual(t, items, event.Items)
}

func TestPublish_WriterError(t *testing.T) {
	w := &mockWriter{err: errors.New("broker down")}
	p := newPublisher("cart-key", w)

	err := p.Publish(context.Background(), nil)
	assert.ErrorContains(t, err, "broker down")
}

func TestRun_PublishesStoreUpdatesInOrder(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher(cart.DefaultStorageKey, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	store, err := cart.New(ctx, kv.NewMemoryStorage())
	require.NoError(t, err)
	_, err = store.Subscribe(p.Listener())
	require.NoError(t, err)

	_, err = store.AddToCart(ctx, domain.Product{ID: "p1", Title: "Shirt", Price: 10})
	require.NoError(t, err)
	_, err = store.Increment(ctx, "p1")
	require.NoError(t, err)
	_, err = store.Decrement(ctx, "p1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(w.written()) == 3
	}, time.Second, 10*time.Millisecond)

	msgs := w.written()
	quantities := []int{1, 2, 1}
	for i, msg := range msgs {
		event := decode(t, msg)
		require.Len(t, event.Items, 1)
		assert.Equal(t, quantities[i], event.Items[0].Quantity)
	}
}

func TestListener_DropsWhenQueueFull(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher("cart-key", w)
	p.queue = make(chan []domain.LineItem, 1)

	listener := p.Listener()
	listener(nil)
	listener(nil) // must not block

	assert.Equal(t, 1, len(p.queue))
}

func TestClose(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher("cart-key", w)

	require.NoError(t, p.Close())
	assert.Assert(t, w.closed)
}

func TestKafkaPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka container test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	defer func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}()

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	topic := "cart-updates"
	p := NewKafkaPublisher("cart-key", topic, brokers...)
	defer p.Close()

	items := []domain.LineItem{{Product: domain.Product{ID: "p1", Price: 3}, Quantity: 1}}
	require.Eventually(t, func() bool {
		return p.Publish(ctx, items) == nil
	}, 30*time.Second, time.Second)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: "cart-store-test",
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	event := decode(t, msg)
	assert.Equal(t, "cart-key", string(msg.Key))
	assert.Equal(t, "p1", event.Items[0].ID)
}

func TestRun_FlushesQueueOnCancel(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher("cart-key", w)

	listener := p.Listener()
	for q := 1; q <= 3; q++ {
		listener([]domain.LineItem{{Product: domain.Product{ID: "p1"}, Quantity: q}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	msgs := w.written()
	assert.Equal(t, 3, len(msgs))
	for i, msg := range msgs {
		assert.Equal(t, i+1, decode(t, msg).Items[0].Quantity)
	}
	for _, err := range w.ctxErrs {
		assert.NilError(t, err)
	}
	assert.Equal(t, 0, len(p.queue))
}

func TestClose_WaitsForRun(t *testing.T) {
	w := &mockWriter{}
	p := newPublisher("cart-key", w)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	require.Eventually(t, p.running.Load, time.Second, time.Millisecond)

	listener := p.Listener()
	listener([]domain.LineItem{{Product: domain.Product{ID: "p1"}, Quantity: 1}})
	listener([]domain.LineItem{{Product: domain.Product{ID: "p1"}, Quantity: 2}})
	cancel()

	require.NoError(t, p.Close())
	assert.Equal(t, 2, len(w.written()))
	assert.Assert(t, w.closed)
}
